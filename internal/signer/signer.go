// Package signer applies the platform's cryptographic signature to a
// composed document. Signatures are timestamped by the first reachable
// timestamp authority; when none responds the document is still
// signed, just without the timestamp, and the degradation is reported
// through the observer.
package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pdfsign/sign"
	"github.com/digitorus/timestamp"

	"github.com/averros/signflow/pkg/api"
)

const defaultHTTPTimeout = 10 * time.Second

// Config carries the signing certificate and the timestamp authority
// preference order.
type Config struct {
	CertificatePEM []byte
	KeyPEM         []byte
	TSAEndpoints   []string
	Platform       string
	HTTPTimeout    time.Duration
}

// Signer finalizes rendered documents with a platform signature.
type Signer struct {
	cert     *x509.Certificate
	key      crypto.Signer
	tsaURL   string
	platform string
	client   *http.Client
	obs      api.TrackingObserver
	clock    api.Clock
}

// New validates the configured certificate material and probes the
// timestamp authorities in order, keeping the first one that answers.
// Certificate problems are fatal; an unreachable authority set is not.
func New(ctx context.Context, cfg Config, obs api.TrackingObserver, clock api.Clock) (*Signer, error) {
	if obs == nil {
		obs = api.NoopObserver{}
	}
	if clock == nil {
		clock = api.SystemClock{}
	}

	cert, key, err := parseCredentials(cfg.CertificatePEM, cfg.KeyPEM)
	if err != nil {
		return nil, err
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	s := &Signer{
		cert:     cert,
		key:      key,
		platform: cfg.Platform,
		client:   &http.Client{Timeout: timeout},
		obs:      obs,
		clock:    clock,
	}

	if len(cfg.TSAEndpoints) > 0 {
		s.tsaURL = s.probeTSA(ctx, cfg.TSAEndpoints)
		if s.tsaURL == "" {
			obs.OnTimestampDegraded(ctx, "", api.ErrTimestampUnavailable)
		}
	}
	return s, nil
}

// TimestampEndpoint reports the authority selected at construction,
// empty when signing runs untimestamped.
func (s *Signer) TimestampEndpoint() string { return s.tsaURL }

// Finalize signs the rendered document bytes. When the selected
// timestamp authority fails mid-signing the signature is retried
// without it so a document never stays unsigned over a timestamp.
func (s *Signer) Finalize(ctx context.Context, id api.Identity, rendered []byte, trackingID string) ([]byte, error) {
	data := sign.SignData{
		Signature: sign.SignDataSignature{
			CertType:   sign.CertificationSignature,
			DocMDPPerm: sign.AllowFillingExistingFormFieldsAndSignaturesPerms,
			Info: sign.SignDataSignatureInfo{
				Name:        s.platform,
				Location:    id.Tenant,
				Reason:      "Completed via " + s.platform + " (" + trackingID + ")",
				ContactInfo: id.Email,
				Date:        s.clock.Now(),
			},
		},
		Signer:          s.key,
		Certificate:     s.cert,
		DigestAlgorithm: crypto.SHA256,
	}
	if s.tsaURL != "" {
		data.TSA = sign.TSA{URL: s.tsaURL}
	}

	out, err := s.signOnce(rendered, data)
	if err != nil && s.tsaURL != "" {
		s.obs.OnTimestampDegraded(ctx, s.tsaURL, err)
		data.TSA = sign.TSA{}
		out, err = s.signOnce(rendered, data)
	}
	if err != nil {
		return nil, fmt.Errorf("sign document %s: %w", trackingID, err)
	}
	return out, nil
}

func (s *Signer) signOnce(rendered []byte, data sign.SignData) ([]byte, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(rendered), int64(len(rendered)))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := sign.Sign(bytes.NewReader(rendered), &buf, rdr, int64(len(rendered)), data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// probeTSA tries each endpoint in order with a throwaway timestamp
// request and returns the first that produces a parseable response.
func (s *Signer) probeTSA(ctx context.Context, endpoints []string) string {
	digest := sha256.Sum256([]byte("signflow-tsa-probe"))
	for _, endpoint := range endpoints {
		if err := s.requestTimestamp(ctx, endpoint, digest[:]); err != nil {
			s.obs.OnTimestampDegraded(ctx, endpoint, err)
			continue
		}
		return endpoint
	}
	return ""
}

func (s *Signer) requestTimestamp(ctx context.Context, endpoint string, digest []byte) error {
	tsq, err := timestamp.CreateRequest(bytes.NewReader(digest), &timestamp.RequestOptions{
		Hash:         crypto.SHA256,
		Certificates: true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(tsq))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/timestamp-query")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("timestamp authority returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_, err = timestamp.ParseResponse(body)
	return err
}

// parseCredentials decodes the PEM pair and verifies the key matches
// the certificate. Every failure is a SigningConfigError so callers
// can alert rather than retry.
func parseCredentials(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	if len(certPEM) == 0 {
		return nil, nil, &api.SigningConfigError{Reason: "no signing certificate configured"}
	}
	if len(keyPEM) == 0 {
		return nil, nil, &api.SigningConfigError{Reason: "no signing key configured"}
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, &api.SigningConfigError{Reason: "certificate is not PEM"}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, &api.SigningConfigError{Reason: "parse certificate", Err: err}
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, &api.SigningConfigError{Reason: "key is not PEM"}
	}
	key, err := parseKey(block)
	if err != nil {
		return nil, nil, &api.SigningConfigError{Reason: "parse key", Err: err}
	}

	pub, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(key.Public()) {
		return nil, nil, &api.SigningConfigError{Reason: "key does not match certificate"}
	}
	return cert, key, nil
}

func parseKey(block *pem.Block) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	switch key := k.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", k)
	}
}
