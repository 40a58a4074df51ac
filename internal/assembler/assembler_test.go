package assembler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dapgrid/internal/invoke"
	"github.com/vk/dapgrid/internal/model"
	"github.com/vk/dapgrid/internal/modspace"
	"github.com/vk/dapgrid/internal/registry"
	"github.com/vk/dapgrid/modules/payment"
)

// shippedModels is the manifest directory the service loads by default.
var shippedModels = filepath.Join("..", "..", "models")

type lookupFunc func(ctx context.Context, ids []string) ([]model.Customer, error)

func (f lookupFunc) Fetch(ctx context.Context, ids []string) ([]model.Customer, error) {
	return f(ctx, ids)
}

type evaluatorFunc func(ctx context.Context, target *invoke.Instance) error

func (f evaluatorFunc) Evaluate(ctx context.Context, target *invoke.Instance) error {
	return f(ctx, target)
}

// echoLookup returns one customer per id, in reverse order.
func echoLookup() lookupFunc {
	return func(_ context.Context, ids []string) ([]model.Customer, error) {
		out := make([]model.Customer, 0, len(ids))
		for i := len(ids) - 1; i >= 0; i-- {
			out = append(out, model.Customer{CustomerID: ids[i], CustomerName: "Customer-" + ids[i]})
		}
		return out, nil
	}
}

func stepUp() evaluatorFunc {
	return func(_ context.Context, target *invoke.Instance) error {
		target.Value().(*payment.PaymentAssessmentData).SetRulesResponse(&model.RulesResponse{Decision: "Step Up"})
		return nil
	}
}

func newCatalog() *registry.Registry {
	r := registry.New()
	(&model.Module{}).Register(r)
	(&payment.Module{}).Register(r)
	return r
}

func namespaceAt(t *testing.T, dir string) *modspace.Namespace {
	t.Helper()
	catalog := newCatalog()
	ns, err := modspace.Initialize(context.Background(), []modspace.Location{{Path: dir}}, modspace.NewHost(catalog), catalog)
	require.NoError(t, err)
	return ns
}

func namespaceFrom(t *testing.T, manifest string) *modspace.Namespace {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.hcl"), []byte(manifest), 0o644))
	return namespaceAt(t, dir)
}

func newAssembler(t *testing.T, lookup EntityLookup, eval Evaluator, opts ...Option) *Assembler {
	t.Helper()
	a, err := New(context.Background(), namespaceAt(t, shippedModels), lookup, eval, opts...)
	require.NoError(t, err)
	return a
}

func decode(t *testing.T, a *Assembler, body string) *invoke.Instance {
	t.Helper()
	inst, err := a.Decode([]byte(body))
	require.NoError(t, err)
	return inst
}

func TestProcess_ScenarioA(t *testing.T) {
	a := newAssembler(t, echoLookup(), stepUp())
	info := decode(t, a, `{"activityId":"abcd","activityTimeStamp":"2025-12-30T13:36:00Z","payeeCustomerId":"CUST001","payerCustomerId":"CUST002"}`)

	target, err := a.Process(context.Background(), info)
	require.NoError(t, err)

	data := target.Value().(*payment.PaymentAssessmentData)
	require.NotNil(t, data.PayeeCustomer)
	require.NotNil(t, data.PayerCustomer)
	assert.Equal(t, "CUST001", data.PayeeCustomer.CustomerID)
	assert.Equal(t, "CUST002", data.PayerCustomer.CustomerID)
	assert.Same(t, info.Value(), data.RequestInfo)

	decision, err := a.Decision(target)
	require.NoError(t, err)
	assert.Equal(t, "Step Up", decision.Decision)
}

func TestProcess_AssignsExactlyRequestedEntities(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantPayee string
		wantPayer string
	}{
		{name: "both", body: `{"activityId":"a","payeeCustomerId":"P1","payerCustomerId":"P2"}`, wantPayee: "P1", wantPayer: "P2"},
		{name: "payee only", body: `{"activityId":"a","payeeCustomerId":"P1"}`, wantPayee: "P1"},
		{name: "payer only", body: `{"activityId":"a","payerCustomerId":"P2"}`, wantPayer: "P2"},
		{name: "none", body: `{"activityId":"a"}`},
		{name: "same id both roles", body: `{"activityId":"a","payeeCustomerId":"X","payerCustomerId":"X"}`, wantPayer: "X"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var requested []string
			lookup := func(ctx context.Context, ids []string) ([]model.Customer, error) {
				requested = ids
				seen := map[string]bool{}
				var out []model.Customer
				for _, id := range ids {
					if !seen[id] {
						seen[id] = true
						out = append(out, model.Customer{CustomerID: id})
					}
				}
				return out, nil
			}
			a := newAssembler(t, lookupFunc(lookup), stepUp())

			target, err := a.Process(context.Background(), decode(t, a, tc.body))
			require.NoError(t, err)
			data := target.Value().(*payment.PaymentAssessmentData)

			var assigned []string
			if tc.wantPayee == "" {
				assert.Nil(t, data.PayeeCustomer)
			} else {
				require.NotNil(t, data.PayeeCustomer)
				assert.Equal(t, tc.wantPayee, data.PayeeCustomer.CustomerID)
				assigned = append(assigned, data.PayeeCustomer.CustomerID)
			}
			if tc.wantPayer == "" {
				assert.Nil(t, data.PayerCustomer)
			} else {
				require.NotNil(t, data.PayerCustomer)
				assert.Equal(t, tc.wantPayer, data.PayerCustomer.CustomerID)
				assigned = append(assigned, data.PayerCustomer.CustomerID)
			}
			assert.Subset(t, requested, assigned)
		})
	}
}

func TestProcess_UnrequestedEntity(t *testing.T) {
	lookup := func(ctx context.Context, ids []string) ([]model.Customer, error) {
		return []model.Customer{{CustomerID: "CUST001"}, {CustomerID: "INTRUDER"}}, nil
	}
	a := newAssembler(t, lookupFunc(lookup), stepUp())

	_, err := a.Process(context.Background(), decode(t, a, `{"activityId":"a","payeeCustomerId":"CUST001"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessing)
	assert.ErrorIs(t, err, ErrUnrequestedEntity)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageDispatch, pe.Stage)
}

func TestProcess_UnknownRole(t *testing.T) {
	manifest := `
symbol "com.example.dapprototype.model.PaymentRequestInfo" {
  type = "payment.PaymentRequestInfo"
}

symbol "com.example.dapprototype.model.PaymentAssessmentData" {
  type = "payment.PaymentAssessmentData"

  role "setPayeeCustomer" {
    operation = "SetPayeeCustomer"
  }
}

symbol "com.example.dapprototype.mapper.PaymentRequestMapper" {
  type = "payment.PaymentRequestMapper"
}

pipeline "payment" {
  request_info     = "com.example.dapprototype.model.PaymentRequestInfo"
  target           = "com.example.dapprototype.model.PaymentAssessmentData"
  mapper           = "com.example.dapprototype.mapper.PaymentRequestMapper"
  convert          = "ToCustomerRequest"
  set_request_info = "SetRequestInfo"
  entity           = "com.example.dapprototype.model.Customer"
}
`
	a, err := New(context.Background(), namespaceFrom(t, manifest), echoLookup(), stepUp())
	require.NoError(t, err)
	assert.Equal(t, []Role{{Tag: payment.RolePayee, Operation: "SetPayeeCustomer"}}, a.Roles())

	_, err = a.Process(context.Background(), decode(t, a, `{"activityId":"a","payeeCustomerId":"P1","payerCustomerId":"P2"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessing)
	assert.ErrorIs(t, err, ErrUnknownRole)

	decision, err := a.Decision(nil)
	assert.NoError(t, err, "pipeline without a decision accessor")
	assert.Nil(t, decision)
}

func TestProcess_CollaboratorFailures(t *testing.T) {
	errLookup := errors.New("directory down")
	errRules := errors.New("rules down")

	t.Run("lookup error", func(t *testing.T) {
		lookup := func(context.Context, []string) ([]model.Customer, error) { return nil, errLookup }
		a := newAssembler(t, lookupFunc(lookup), stepUp())

		_, err := a.Process(context.Background(), decode(t, a, `{"activityId":"a","payeeCustomerId":"P1"}`))
		assert.ErrorIs(t, err, ErrProcessing)
		assert.ErrorIs(t, err, errLookup)
	})

	t.Run("evaluator error", func(t *testing.T) {
		eval := func(context.Context, *invoke.Instance) error { return errRules }
		a := newAssembler(t, echoLookup(), evaluatorFunc(eval))

		_, err := a.Process(context.Background(), decode(t, a, `{"activityId":"a"}`))
		assert.ErrorIs(t, err, ErrProcessing)
		assert.ErrorIs(t, err, errRules)
		var pe *Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, StageEvaluate, pe.Stage)
	})

	t.Run("lookup honours deadline", func(t *testing.T) {
		lookup := func(ctx context.Context, _ []string) ([]model.Customer, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		a := newAssembler(t, lookupFunc(lookup), stepUp(), WithLookupTimeout(20*time.Millisecond))

		_, err := a.Process(context.Background(), decode(t, a, `{"activityId":"a"}`))
		assert.ErrorIs(t, err, ErrProcessing)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("hung evaluator is abandoned", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		eval := func(context.Context, *invoke.Instance) error {
			<-release
			return nil
		}
		a := newAssembler(t, echoLookup(), evaluatorFunc(eval), WithRulesTimeout(20*time.Millisecond))

		start := time.Now()
		_, err := a.Process(context.Background(), decode(t, a, `{"activityId":"a"}`))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestProcess_RejectsForeignRequestInfo(t *testing.T) {
	a := newAssembler(t, echoLookup(), stepUp())
	b := newAssembler(t, echoLookup(), stepUp())

	_, err := a.Process(context.Background(), decode(t, b, `{"activityId":"a"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessing)

	_, err = a.Process(context.Background(), nil)
	assert.ErrorIs(t, err, ErrProcessing)
}

func TestDecode(t *testing.T) {
	a := newAssembler(t, echoLookup(), stepUp())

	info := decode(t, a, `{"activityId":"abcd","payerCustomerId":"CUST002"}`)
	got := info.Value().(*payment.PaymentRequestInfo)
	assert.Equal(t, "abcd", got.ActivityID)
	require.NotNil(t, got.PayerCustomerID)
	assert.Equal(t, "CUST002", *got.PayerCustomerID)
	assert.Nil(t, got.PayeeCustomerID)

	_, err := a.Decode([]byte(`{"activityId":`))
	assert.ErrorIs(t, err, ErrDecode)
	_, err = a.Decode([]byte(`{"activityId":42}`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestNew_Failures(t *testing.T) {
	ns := namespaceAt(t, shippedModels)

	_, err := New(context.Background(), ns, echoLookup(), stepUp(), WithPipeline("missing"))
	assert.ErrorIs(t, err, modspace.ErrPipelineNotFound)

	_, err = New(context.Background(), nil, echoLookup(), stepUp())
	assert.Error(t, err)

	_, err = New(context.Background(), ns, nil, stepUp())
	assert.Error(t, err)

	tests := []struct {
		name     string
		pipeline string
		want     error
	}{
		{
			name: "unresolvable target",
			pipeline: `
  target           = "com.example.Missing"
  mapper           = "com.example.dapprototype.mapper.PaymentRequestMapper"
  convert          = "ToCustomerRequest"`,
			want: modspace.ErrSymbolNotFound,
		},
		{
			name: "mapper without singleton",
			pipeline: `
  target           = "com.example.dapprototype.model.PaymentAssessmentData"
  mapper           = "com.example.dapprototype.model.PaymentRequestInfo"
  convert          = "ToCustomerRequest"`,
			want: invoke.ErrInvocation,
		},
		{
			name: "missing conversion",
			pipeline: `
  target           = "com.example.dapprototype.model.PaymentAssessmentData"
  mapper           = "com.example.dapprototype.mapper.PaymentRequestMapper"
  convert          = "ToSomethingElse"`,
			want: invoke.ErrInvocation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			manifest := `
symbol "com.example.dapprototype.model.PaymentRequestInfo" {
  type = "payment.PaymentRequestInfo"
}
symbol "com.example.dapprototype.model.PaymentAssessmentData" {
  type = "payment.PaymentAssessmentData"
}
symbol "com.example.dapprototype.mapper.PaymentRequestMapper" {
  type = "payment.PaymentRequestMapper"
}
pipeline "payment" {
  request_info     = "com.example.dapprototype.model.PaymentRequestInfo"
  set_request_info = "SetRequestInfo"
  entity           = "com.example.dapprototype.model.Customer"
` + tc.pipeline + `
}
`
			_, err := New(context.Background(), namespaceFrom(t, manifest), echoLookup(), stepUp())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestProcess_AfterRelease(t *testing.T) {
	ns := namespaceAt(t, shippedModels)
	a, err := New(context.Background(), ns, echoLookup(), stepUp())
	require.NoError(t, err)
	info := decode(t, a, `{"activityId":"a"}`)

	require.NoError(t, ns.Release())

	_, err = a.Process(context.Background(), info)
	assert.ErrorIs(t, err, ErrProcessing)
	assert.ErrorIs(t, err, modspace.ErrReleased)
}
