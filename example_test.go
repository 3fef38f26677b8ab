package signflow_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/averros/signflow"
	"github.com/averros/signflow/pkg/api"
	"github.com/signintech/gopdf"
)

// consoleNotifier prints notifications instead of sending mail.
type consoleNotifier struct{}

func (consoleNotifier) SendSigningLink(ctx context.Context, tenant string, t *signflow.Tracking, party signflow.Party, token signflow.Token) error {
	fmt.Printf("link for %s: %s\n", party.Email, token.Value)
	return nil
}

func (consoleNotifier) SendReminder(ctx context.Context, tenant string, t *signflow.Tracking, party signflow.Party, token signflow.Token) error {
	fmt.Printf("reminder for %s\n", party.Email)
	return nil
}

func (consoleNotifier) SendCompleted(ctx context.Context, tenant string, t *signflow.Tracking, signed, certificate []byte) error {
	fmt.Printf("tracking %s completed\n", t.TrackingID)
	return nil
}

func (consoleNotifier) SendStatusNotice(ctx context.Context, tenant string, t *signflow.Tracking, action signflow.Action, reason string) error {
	return nil
}

// serialTokens issues predictable tokens valid until the given time.
type serialTokens struct{ n int }

func (s *serialTokens) Issue(ctx context.Context, req signflow.TokenRequest) (signflow.Token, error) {
	s.n++
	return signflow.Token{Value: fmt.Sprintf("tok-%d", s.n), ValidUntil: req.Validity}, nil
}

// plainCertificates renders a one-line completion certificate.
type plainCertificates struct{}

func (plainCertificates) Render(ctx context.Context, data signflow.CertificateData) ([]byte, error) {
	return []byte("completed: " + data.DocumentID), nil
}

// dropJobs discards scheduled work; fine for a synchronous example.
type dropJobs struct{}

func (dropJobs) Schedule(ctx context.Context, job signflow.ScheduledJob) error { return nil }

func (dropJobs) HasCompletedReminder(ctx context.Context, documentID, trackingID string) (bool, error) {
	return false, nil
}

// passthroughSigner skips cryptographic signing; production engines
// supply SigningCertPEM/SigningKeyPEM instead.
type passthroughSigner struct{}

func (passthroughSigner) Finalize(ctx context.Context, id api.Identity, rendered []byte, trackingID string) ([]byte, error) {
	return rendered, nil
}

// Example demonstrates running a single-party document through the
// engine with in-memory collaborators.
func Example() {
	ctx := context.Background()

	eng, err := signflow.NewEngine(ctx, signflow.DefaultConfig(), signflow.Dependencies{
		Blobs:        signflow.NewMemoryBlobStore(),
		Locks:        signflow.NewMemoryLockManager(nil),
		Tokens:       &serialTokens{},
		Notifier:     consoleNotifier{},
		Certificates: plainCertificates{},
		Signer:       passthroughSigner{},
		Jobs:         dropJobs{},
	})
	if err != nil {
		log.Fatal(err)
	}

	doc := gopdf.GoPdf{}
	doc.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4, Unit: gopdf.UnitPT})
	doc.AddPage()

	res, err := eng.Initiate(ctx, "acme#ops@example.com", signflow.InitiateRequest{
		DocumentID: "contract-7",
		TrackingID: "run-1",
		Source:     doc.GetBytesPdf(),
		Parties: []signflow.Party{
			{ID: "p1", Name: "Ana", Email: "ana@example.com", Priority: 1},
		},
		Fields: []signflow.Field{
			{ID: "name", Type: api.FieldText, PartyID: "p1", Page: 1, X: 40, Y: 60, Width: 180, Height: 24},
		},
		ValidityDate: time.Now().Add(14 * 24 * time.Hour),
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("initiated %s (%s)\n", res.TrackingID, res.Status)

	sr, err := eng.SignFields(ctx, "acme#ana@example.com", signflow.Submission{
		DocumentID: "contract-7",
		TrackingID: "run-1",
		PartyID:    "p1",
		Values:     []signflow.FieldValue{{FieldID: "name", Value: "Ana"}},
		UIWidth:    595,
		UIHeight:   842,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("tracking is %s\n", sr.Status)
	eng.Wait()

	// Output:
	// link for ana@example.com: tok-1
	// initiated run-1 (sent)
	// tracking run-1 completed
	// tracking is completed
}
