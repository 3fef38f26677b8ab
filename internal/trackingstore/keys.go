package trackingstore

// Keys builds the deterministic blob-store keys for one tenant.
// All engine state is addressed through these templates; nothing else
// writes into the tenant's namespace.
type Keys struct {
	Tenant string
}

func (k Keys) Tracking(documentID, trackingID string) string {
	return k.Tenant + "/metadata/tracking/" + documentID + "/" + trackingID + ".json"
}

func (k Keys) Document(documentID string) string {
	return k.Tenant + "/metadata/document/" + documentID + ".json"
}

// DocumentPrefix lists every document summary of the tenant.
func (k Keys) DocumentPrefix() string {
	return k.Tenant + "/metadata/document/"
}

func (k Keys) Counters() string {
	return k.Tenant + "/metadata/counters.json"
}

func (k Keys) SourceDocument(documentID string) string {
	return k.Tenant + "/documents/" + documentID + ".pdf"
}

func (k Keys) SignedArtifact(documentID, trackingID string) string {
	return k.Tenant + "/signed/" + documentID + "/" + trackingID
}

func (k Keys) SignatureRecord(trackingID, partyID string) string {
	return k.Tenant + "/signatures/" + trackingID + "/signatures/" + partyID + ".json"
}

func (k Keys) SignatureRecordPrefix(trackingID string) string {
	return k.Tenant + "/signatures/" + trackingID + "/signatures/"
}

func (k Keys) Certificate(documentID, trackingID string) string {
	return k.Tenant + "/certificates/documents/" + documentID + "/tracking/" + trackingID + ".pdf"
}
