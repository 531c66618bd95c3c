package main

import (
	"bytes"
	"testing"

	"debitledger/internal/job"
	"debitledger/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate"},
		{"reconcile"},
		{"outbox", "failed"},
		{"outbox", "requeue"},
	} {
		found, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestOutboxRequeue_ArgumentErrors(t *testing.T) {
	_, err := execute("outbox", "requeue")
	assert.Error(t, err)

	_, err = execute("outbox", "requeue", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid outbox id")
}

func TestReconcile_RequiresCustomer(t *testing.T) {
	_, err := execute("reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute("--config", t.TempDir()+"/absent.yaml", "migrate")
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeReport(&out, &service.ReconciliationReport{CustomerID: 7}))
	assert.Contains(t, out.String(), `"customer_id": 7`)

	out.Reset()
	err := writeReport(&out, &service.ReconciliationReport{
		CustomerID: 7,
		Mismatches: []string{"reserved: replayed 10.00, stored 0.00"},
	})
	assert.ErrorIs(t, err, job.ErrLedgerMismatch)
	assert.Contains(t, out.String(), "mismatches")
}
