package jobs_test

import (
	"testing"

	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/jobs/jobstest"
)

func TestMemoryStore_Contract(t *testing.T) {
	jobstest.RunStoreContract(t, func(t *testing.T) jobs.Store {
		return jobs.NewMemoryStore()
	})
}
