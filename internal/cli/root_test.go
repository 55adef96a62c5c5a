package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/gateway"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
)

type fakeQueue struct {
	submits []string
	sweeps  int
	info    *asynq.TaskInfo
}

func (q *fakeQueue) EnqueueSubmit(_ context.Context, class fiscal.Class, id string) (*asynq.TaskInfo, error) {
	q.submits = append(q.submits, string(class)+"/"+id)
	return q.info, nil
}

func (q *fakeQueue) EnqueueSweep(context.Context, string) (*asynq.TaskInfo, error) {
	q.sweeps++
	return q.info, nil
}

type fakePipeline struct {
	result  compliance.Result
	err     error
	report  compliance.SweepReport
	entries []ledger.Entry
}

func (p *fakePipeline) Submit(context.Context, fiscal.Class, string) (compliance.Result, error) {
	return p.result, p.err
}

func (p *fakePipeline) Sweep(context.Context) (compliance.SweepReport, error) {
	return p.report, p.err
}

func (p *fakePipeline) History(context.Context, fiscal.Class, string) ([]ledger.Entry, error) {
	return p.entries, p.err
}

func (p *fakePipeline) Reprint(context.Context, fiscal.Class, string) (ledger.Entry, error) {
	if p.err != nil {
		return ledger.Entry{}, p.err
	}
	e := p.entries[len(p.entries)-1]
	e.PrintCount++
	return e, nil
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func run(t *testing.T, env *Env, args ...string) (string, []bool, error) {
	t.Helper()
	var inline []bool
	closed := false
	env.Close = func() { closed = true }
	cmd := NewRootCommand(func(_ context.Context, sync bool) (*Env, error) {
		inline = append(inline, sync)
		return env, nil
	})
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if len(inline) > 0 {
		require.True(t, closed, "environment left open")
	}
	return out.String(), inline, err
}

func TestSubmitQueuesByDefault(t *testing.T) {
	queue := &fakeQueue{info: &asynq.TaskInfo{ID: "t-1", Queue: "fiscal"}}
	out, inline, err := run(t, &Env{Queue: queue}, "submit", "sale", "SINV-1")
	require.NoError(t, err)
	require.Equal(t, []bool{false}, inline)
	require.Equal(t, []string{"sale/SINV-1"}, queue.submits)
	require.Equal(t, "queued t-1 on fiscal\n", out)

	queue.info = nil
	out, _, err = run(t, &Env{Queue: queue}, "submit", "sale", "SINV-1", "--format", "json")
	require.NoError(t, err)
	require.JSONEq(t, `{"duplicate":true}`, out)
}

func TestSubmitSync(t *testing.T) {
	pipeline := &fakePipeline{result: compliance.Result{
		Class: fiscal.ClassSale, DocumentID: "S2", Outcome: compliance.OutcomeAcknowledged,
		Entry: ledger.Entry{SequenceNo: 3}, Renumbered: 1,
	}}
	out, inline, err := run(t, &Env{Pipeline: pipeline}, "submit", "sale", "S2", "--sync")
	require.NoError(t, err)
	require.Equal(t, []bool{true}, inline)
	require.Contains(t, out, "sale S2: acknowledged (sequence 3)")
	require.Contains(t, out, "renumbered 1 time(s)")
}

func TestSubmitSyncWarningExitsWithFailure(t *testing.T) {
	pipeline := &fakePipeline{result: compliance.Result{
		Class: fiscal.ClassSale, DocumentID: "S3", Outcome: compliance.OutcomePending,
		Entry:   ledger.Entry{SequenceNo: 4},
		Warning: &compliance.SubmissionWarning{Kind: gateway.Unreachable, Detail: "dial tcp: connection refused"},
	}}
	out, _, err := run(t, &Env{Pipeline: pipeline}, "--format", "json", "submit", "sale", "S3", "--sync")
	require.Equal(t, ExitFailure, GetExitCode(err))

	var view submitView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, "pending", view.Outcome)
	require.Equal(t, "unreachable", view.Warning.Kind)
}

func TestSubmitValidationIsACommandError(t *testing.T) {
	pipeline := &fakePipeline{err: compliance.ErrValidation}
	_, _, err := run(t, &Env{Pipeline: pipeline}, "submit", "sale", "S4", "--sync")
	require.Equal(t, ExitCommandError, GetExitCode(err))
	require.ErrorIs(t, err, compliance.ErrValidation)

	_, inline, err := run(t, &Env{}, "submit", "invoice", "S4")
	require.Equal(t, ExitCommandError, GetExitCode(err))
	require.Empty(t, inline)
}

func TestSweepSyncReportsLeftovers(t *testing.T) {
	pipeline := &fakePipeline{report: compliance.SweepReport{
		Attempted: 5, Acknowledged: 3, Pending: 2,
		Items: []compliance.SweepItem{
			{Class: fiscal.ClassSale, DocumentID: "S2", Outcome: compliance.OutcomePending, Error: "dial tcp: connection refused"},
		},
	}}
	out, _, err := run(t, &Env{Pipeline: pipeline}, "sweep", "--sync")
	require.Equal(t, ExitFailure, GetExitCode(err))
	require.Contains(t, out, "attempted 5: acknowledged 3, unchanged 0, pending 2, rejected 0, waiting 0, failed 0")
	require.Contains(t, out, "sale S2: dial tcp: connection refused")

	queue := &fakeQueue{info: &asynq.TaskInfo{ID: "t-2", Queue: "fiscal"}}
	_, _, err = run(t, &Env{Queue: queue}, "sweep")
	require.NoError(t, err)
	require.Equal(t, 1, queue.sweeps)
}

func TestQueueCommand(t *testing.T) {
	env := &Env{Inspector: fakeInspector{info: &asynq.QueueInfo{Queue: "fiscal", Pending: 4, Active: 1}}}
	out, _, err := run(t, env, "queue", "--format", "json")
	require.NoError(t, err)
	require.JSONEq(t, `{"queue":"fiscal","pending":4,"active":1,"scheduled":0,"archived":0,"paused":false}`, out)

	env = &Env{Inspector: fakeInspector{err: errors.New("redis: connection refused")}}
	_, _, err = run(t, env, "queue")
	require.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistoryAndReprint(t *testing.T) {
	next := uuid.New()
	pipeline := &fakePipeline{entries: []ledger.Entry{
		{ID: uuid.New(), SequenceNo: 2, SourceRevision: 1, Status: ledger.StatusRejected, ResultCode: "924", Attempts: 1, Terminal: true, SupersededBy: &next},
		{ID: next, SequenceNo: 3, SourceRevision: 1, Status: ledger.StatusAcknowledged, ResultCode: "000", Attempts: 1, PrintCount: 1},
	}}
	out, inline, err := run(t, &Env{Pipeline: pipeline}, "history", "sale", "S2")
	require.NoError(t, err)
	require.Equal(t, []bool{true}, inline)
	require.Equal(t, "#2 rev 1 rejected (superseded) attempts 1 code 924\n#3 rev 1 acknowledged (active) attempts 1 code 000\n", out)

	out, _, err = run(t, &Env{Pipeline: pipeline}, "reprint", "sale", "S2")
	require.NoError(t, err)
	require.Equal(t, "sale S2: print count 2\n", out)

	_, _, err = run(t, &Env{Pipeline: &fakePipeline{}}, "history", "sale", "S9")
	require.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvalidFormat(t *testing.T) {
	_, inline, err := run(t, &Env{}, "--format", "yaml", "queue")
	require.Equal(t, ExitCommandError, GetExitCode(err))
	require.Empty(t, inline)
}

func TestReprintPrintsReceipt(t *testing.T) {
	pipeline := &fakePipeline{entries: []ledger.Entry{{
		SequenceNo: 1, Status: ledger.StatusAcknowledged,
		GatewayFields: json.RawMessage(`{"rcptNo":7,"totRcptNo":42,"sdcId":"SDC010000001","rcptSign":"ABCD1234"}`),
	}}}
	out, _, err := run(t, &Env{Pipeline: pipeline}, "reprint", "sale", "S1")
	require.NoError(t, err)
	require.Equal(t, "sale S1: print count 1\nreceipt 7/42 sdc SDC010000001 signature ABCD1234\n", out)
}
