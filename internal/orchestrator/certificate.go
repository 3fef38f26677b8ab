package orchestrator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"

	pdfr "github.com/digitorus/pdf"

	"github.com/averros/signflow/pkg/api"
)

// buildCertificateData synthesizes the structured completion record
// from the signed bytes and the per-party signature records. Parties
// without a signature record (they only filled text fields) still
// appear as signers, just without an artifact.
func buildCertificateData(t *api.Tracking, signed []byte, records []api.SignatureRecord, completedAt time.Time) api.CertificateData {
	byParty := make(map[string]api.SignatureRecord, len(records))
	for _, rec := range records {
		byParty[rec.PartyID] = rec
	}

	signers := make([]api.CertificateSigner, 0, len(t.Parties))
	for i := range t.Parties {
		p := &t.Parties[i]
		signer := api.CertificateSigner{
			Name:  p.Name,
			Email: p.Email,
		}
		if rec, ok := p.Last(api.DimensionSigned); ok {
			signer.SignedAt = rec.DateTime
		}
		if rec, ok := byParty[p.ID]; ok {
			signer.Style = rec.Style
			signer.Artifact = rec.Artifact
		}
		signers = append(signers, signer)
	}

	hash := sha256.Sum256(signed)
	return api.CertificateData{
		DocumentID:  t.DocumentID,
		TrackingID:  t.TrackingID,
		PageCount:   pageCount(signed),
		FinalHash:   hex.EncodeToString(hash[:]),
		CompletedAt: completedAt,
		Signers:     signers,
	}
}

func pageCount(doc []byte) int {
	reader, err := pdfr.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
