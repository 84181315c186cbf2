package points_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
)

func TestAddPoints(t *testing.T) {
	// GIVEN: A customer without points
	h := newHarness(t)
	h.customer("C001")

	// WHEN: Staff adds 10 points
	res, err := h.engine.AddPoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("10"), Actor: "alice"})

	// THEN: A manual entry is written under a fresh doc number
	require.NoError(t, err)
	assert.Equal(t, "PT-20260315-000001", res.Entry.DocNo)
	assert.Equal(t, points.KindManualAdd, res.Entry.Kind())
	assert.Equal(t, "points added by alice", res.Entry.Remark)
	assert.Equal(t, "10:30", res.Entry.DocTime)
	assert.Empty(t, res.Entry.SaleDocNo)
	assertDecimal(t, "10", res.Entry.PointsEarned)
	assertDecimal(t, "10", res.Balance.PointBalance)
	assertDecimal(t, "10", h.balance("C001").RewardPoint)

	stored, err := h.engine.Entry(h.ctx, res.Entry.DocNo)
	require.NoError(t, err)
	assert.Empty(t, stored.Lines)
	assert.Equal(t, "points added by alice", stored.Remark)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, points.KindManualAdd, events[0].Kind)
}

func TestManual_Validation(t *testing.T) {
	h := newHarness(t)
	h.customer("C001")

	tests := []struct {
		name string
		req  points.ManualRequest
		want error
	}{
		{"missing customer", points.ManualRequest{Points: d("1")}, points.ErrInvalidCustomer},
		{"zero points", points.ManualRequest{CustCode: "C001", Points: d("0")}, points.ErrInvalidPoints},
		{"negative points", points.ManualRequest{CustCode: "C001", Points: d("-5")}, points.ErrInvalidPoints},
		{"unknown customer", points.ManualRequest{CustCode: "NOBODY", Points: d("1")}, points.ErrCustomerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.AddPoints(h.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			_, err = h.engine.UsePoints(h.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.entries("C001"))
}

func TestUsePoints_BalanceGuard(t *testing.T) {
	// GIVEN: A balance of 10
	h := newHarness(t)
	h.customer("C001")
	_, err := h.engine.AddPoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("10")})
	require.NoError(t, err)

	// WHEN: Redeeming exactly the balance
	res, err := h.engine.UsePoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("10")})

	// THEN: It succeeds and leaves nothing
	require.NoError(t, err)
	assert.Equal(t, points.KindRedemption, res.Entry.Kind())
	assert.Equal(t, "points used by staff", res.Entry.Remark)
	assertDecimal(t, "0", res.Balance.PointBalance)
	assertDecimal(t, "10", res.Balance.RewardPoint)

	// AND: One more point is refused with the available balance attached
	_, err = h.engine.UsePoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("0.5")})
	var insufficient *points.InsufficientPointsError
	require.True(t, errors.As(err, &insufficient))
	assertDecimal(t, "0", insufficient.Available)
	assertDecimal(t, "0.5", insufficient.Requested)
	assert.ErrorIs(t, err, points.ErrInsufficientPoints)
	assert.True(t, points.IsClientError(err))
	assert.Len(t, h.entries("C001"), 2)
}

func TestUsePoints_ConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	// GIVEN: A balance of 10
	h := newHarness(t)
	h.customer("C001")
	_, err := h.engine.AddPoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("10")})
	require.NoError(t, err)

	// WHEN: Five redemptions of 3 race each other
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.UsePoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("3")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, points.ErrInsufficientPoints) {
				refused++
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly three fit
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 2, refused)
	assertDecimal(t, "1", h.balance("C001").PointBalance)
}

func TestCancelUse(t *testing.T) {
	// GIVEN: 10 points added and 4 redeemed
	h := newHarness(t)
	h.customer("C001")
	_, err := h.engine.AddPoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("10")})
	require.NoError(t, err)
	used, err := h.engine.UsePoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("4")})
	require.NoError(t, err)
	assertDecimal(t, "6", used.Balance.PointBalance)

	// WHEN: The redemption is cancelled
	res, err := h.engine.CancelUse(h.ctx, points.CancelRequest{DocNo: used.Entry.DocNo, Actor: "bob"})

	// THEN: A mirror entry restores the balance
	require.NoError(t, err)
	assert.Equal(t, points.KindCancelUse, res.Entry.Kind())
	assert.Equal(t, used.Entry.DocNo, res.Entry.CancelsDocNo)
	assert.Equal(t, "cancel use "+used.Entry.DocNo+" by bob", res.Entry.Remark)
	assertDecimal(t, "-4", res.Entry.PointsUsed)
	assertDecimal(t, "10", res.Balance.PointBalance)
	assertDecimal(t, "10", h.balance("C001").PointBalance)

	// AND: It cannot be cancelled twice
	_, err = h.engine.CancelUse(h.ctx, points.CancelRequest{DocNo: used.Entry.DocNo})
	assert.ErrorIs(t, err, points.ErrAlreadyCancelled)
	assert.True(t, points.IsConflict(err))
	assertDecimal(t, "10", h.balance("C001").PointBalance)
}

func TestCancelUse_RejectsNonRedemptions(t *testing.T) {
	h := newHarness(t)
	h.customer("C001")
	h.customer("C002")
	added, err := h.engine.AddPoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("10")})
	require.NoError(t, err)
	used, err := h.engine.UsePoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("2")})
	require.NoError(t, err)
	cancel, err := h.engine.CancelUse(h.ctx, points.CancelRequest{DocNo: used.Entry.DocNo})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  points.CancelRequest
		want error
	}{
		{"empty doc number", points.CancelRequest{}, points.ErrInvalidDocNo},
		{"unknown doc number", points.CancelRequest{DocNo: "PT-20990101-000001"}, points.ErrRedemptionNotFound},
		{"manual add", points.CancelRequest{DocNo: added.Entry.DocNo}, points.ErrRedemptionNotFound},
		{"a cancellation", points.CancelRequest{DocNo: cancel.Entry.DocNo}, points.ErrRedemptionNotFound},
		{"other customer", points.CancelRequest{DocNo: used.Entry.DocNo, CustCode: "C002"}, points.ErrRedemptionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.CancelUse(h.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, h.entries("C001"), 3)
}

func TestManual_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, points.WithMetrics(points.NewMetrics(reg)))
	h.customer("C001")

	_, err := h.engine.AddPoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("1")})
	require.NoError(t, err)
	_, err = h.engine.UsePoints(h.ctx, points.ManualRequest{CustCode: "C001", Points: d("2")})
	require.Error(t, err)

	expected := `
# HELP points_manual_operations_total Manual add, use and cancel-use operations, by result.
# TYPE points_manual_operations_total counter
points_manual_operations_total{operation="add",result="ok"} 1
points_manual_operations_total{operation="use",result="rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "points_manual_operations_total"))
}
