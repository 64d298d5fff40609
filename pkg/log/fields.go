package log

// Fields are structured key/value pairs attached to a log line.
type Fields map[string]any

// JobFields identifies one ledger job in log output.
func JobFields(jobID, runID string) Fields {
	return Fields{
		"job_id": jobID,
		"run_id": runID,
	}
}

// BookFields identifies a book and language in log output.
func BookFields(providerID, bookID, lang string) Fields {
	return Fields{
		"provider": providerID,
		"book":     bookID,
		"lang":     lang,
	}
}
