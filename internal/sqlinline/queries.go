package sqlinline

// All returns every statement keyed by its Go name. Used by tests that check
// the marker contract enforced by infra.SQLRunner.
func All() map[string]string {
	return map[string]string{
		"QUpsertBatchJob":          QUpsertBatchJob,
		"QSelectBatchJobs":         QSelectBatchJobs,
		"QSelectCredentialLibrary": QSelectCredentialLibrary,
		"QUpsertCredential":        QUpsertCredential,
		"QTouchCredential":         QTouchCredential,
	}
}
