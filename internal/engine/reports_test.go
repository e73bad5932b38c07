package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, h int) time.Time {
	return time.Date(2026, 10, d, h, 0, 0, 0, time.UTC)
}

func TestResolveReportRange(t *testing.T) {
	// Wednesday
	now := time.Date(2026, 10, 21, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name             string
		period           string
		from, to         string
		want             engine.ReportPeriod
		start, end       time.Time
		wantFrom, wantTo string
	}{
		{"today", "today", "", "", engine.ReportToday, day(21, 0), day(22, 0), "2026-10-21", "2026-10-21"},
		{"week", "WEEK", "", "", engine.ReportWeek, day(19, 0), day(26, 0), "2026-10-19", "2026-10-25"},
		{"default month", "", "", "", engine.ReportMonth, day(1, 0), time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), "2026-10-01", "2026-10-31"},
		{"custom swapped", "custom", "2026-10-10", "2026-10-01", engine.ReportCustom, day(1, 0), day(11, 0), "2026-10-01", "2026-10-10"},
		{"custom malformed", "custom", "2026-10-1", "2026-10-05", engine.ReportMonth, day(1, 0), time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), "2026-10-01", "2026-10-31"},
		{"unknown", "year", "", "", engine.ReportMonth, day(1, 0), time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), "2026-10-01", "2026-10-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := engine.ResolveReportRange(tt.period, tt.from, tt.to, now)
			assert.Equal(t, tt.want, rng.Period)
			assert.Equal(t, tt.start, rng.Start)
			assert.Equal(t, tt.end, rng.End)
			assert.Equal(t, tt.wantFrom, rng.From)
			assert.Equal(t, tt.wantTo, rng.To)
		})
	}

	prevStart, prevEnd := engine.ResolveReportRange("today", "", "", now).Previous()
	assert.Equal(t, day(20, 0), prevStart)
	assert.Equal(t, day(21, 0), prevEnd)
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, 14, engine.ClampDays(0))
	assert.Equal(t, 1, engine.ClampDays(-3))
	assert.Equal(t, 30, engine.ClampDays(30))
	assert.Equal(t, 60, engine.ClampDays(365))
}

func TestAgingBucketFor(t *testing.T) {
	assert.Equal(t, "0-1 day", engine.AgingBucketFor(0))
	assert.Equal(t, "0-1 day", engine.AgingBucketFor(24*time.Hour))
	assert.Equal(t, "2-3 days", engine.AgingBucketFor(24*time.Hour+time.Minute))
	assert.Equal(t, "4-7 days", engine.AgingBucketFor(7*24*time.Hour))
	assert.Equal(t, "8+ days", engine.AgingBucketFor(7*24*time.Hour+time.Second))
}

// reportFixture files four requests in October 2026:
// a delivered tanker, a pending tanker, a cancelled order and a pending order
type reportFixture struct {
	*fixture
	reports *engine.ReportEngine
	tanker  *models.ServiceOption
	filed   []*models.Request
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	f := newFixture(t)
	rf := &reportFixture{
		fixture: f,
		reports: engine.NewReportEngine(f.db, testutil.NewLogger()).WithClock(func() time.Time { return f.now }),
		tanker:  testutil.CreateOption(t, f.db, f.rt, "Water Tanker", models.OptionConfig{}),
	}
	require.NoError(t, f.db.Model(rf.tanker).Update("slug", "order_water_tanker").Error)
	require.NoError(t, f.db.Model(&models.User{}).Where("id IN ?", []uint{f.user.ID, f.admin.ID}).
		UpdateColumn("created_at", day(5, 12)).Error)

	file := func(at time.Time, opt *models.ServiceOption, house string, status models.RequestStatus, resolved time.Time) {
		f.now = at
		sub := f.submission()
		sub.RequestTypeOptionID = opt.ID
		sub.HouseNo = house
		req, err := f.eng.Submit(context.Background(), sub, f.user)
		require.NoError(t, err)
		require.NoError(t, f.db.Model(req).UpdateColumns(map[string]interface{}{
			"status":     status,
			"updated_at": resolved,
		}).Error)
		rf.filed = append(rf.filed, req)
	}
	file(day(10, 9), rf.tanker, "12", models.StatusDone, day(10, 15))
	file(day(12, 10), rf.tanker, "13", models.StatusPending, day(12, 10))
	file(day(12, 10).Add(30*time.Minute), f.opt, "12", models.StatusCancelled, day(12, 11))
	file(day(18, 6), f.opt, "12", models.StatusPending, day(18, 6))

	f.now = day(19, 6)
	return rf
}

func TestStats(t *testing.T) {
	rf := newReportFixture(t)
	other := testutil.CreateRequestType(t, rf.db, "Garbage", "garbage")
	otherOpt := testutil.CreateOption(t, rf.db, other, "Pickup", models.OptionConfig{})
	sub := rf.submission()
	sub.RequestTypeID, sub.RequestTypeOptionID = other.ID, otherOpt.ID
	_, err := rf.eng.Submit(context.Background(), sub, rf.user)
	require.NoError(t, err)

	stats, err := rf.reports.Stats(context.Background(), rf.admin)
	require.NoError(t, err)
	want := &engine.StatsSummary{
		Total: 5,
		ByType: []engine.TypeCount{
			{RequestTypeID: rf.rt.ID, Name: "Water", Slug: "water", Count: 4},
			{RequestTypeID: other.ID, Name: "Garbage", Slug: "garbage", Count: 1},
		},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}

	_, err = rf.reports.Stats(context.Background(), rf.user)
	assert.EqualError(t, err, "Admin only")
}

func TestDailyStats_ZeroFilled(t *testing.T) {
	rf := newReportFixture(t)

	daily, err := rf.reports.DailyStats(context.Background(), rf.admin, 10)
	require.NoError(t, err)
	require.Len(t, daily, 10)
	assert.Equal(t, engine.DailyCount{Date: "2026-10-10", Count: 1}, daily[0])
	assert.Equal(t, engine.DailyCount{Date: "2026-10-11", Count: 0}, daily[1])
	assert.Equal(t, engine.DailyCount{Date: "2026-10-12", Count: 2}, daily[2])
	assert.Equal(t, engine.DailyCount{Date: "2026-10-18", Count: 1}, daily[8])
	assert.Equal(t, engine.DailyCount{Date: "2026-10-19", Count: 0}, daily[9])

	daily, err = rf.reports.DailyStats(context.Background(), rf.admin, 0)
	require.NoError(t, err)
	assert.Len(t, daily, 14)
}

func TestDashboard_Month(t *testing.T) {
	rf := newReportFixture(t)
	d, err := rf.reports.Dashboard(context.Background(), rf.admin, "month", "", "")
	require.NoError(t, err)

	assert.Equal(t, engine.ReportFilter{Period: engine.ReportMonth, From: "2026-10-01", To: "2026-10-31"}, d.Filter)

	sectorName := rf.sector.Name
	wantTankers := engine.TankerSummary{
		Requested: 2,
		Delivered: 1,
		Pending:   1,
		BySubSector: []engine.TankerSubSector{
			{SubSectorID: rf.sector.ID, SubSectorName: sectorName, Requested: 2, Delivered: 1, Pending: 1},
		},
		Requests: []engine.TankerRequest{
			{
				RequestID: rf.filed[1].ID, RequestNumber: rf.filed[1].RequestNumber, CreatedAt: "2026-10-12T10:00:00Z",
				SubSectorName: sectorName, HouseNo: "13", StreetNo: "4", ServiceOptionLabel: "Water Tanker",
				Status: "pending", UserName: rf.user.FullName, MobileNo: rf.user.MobileNo(),
			},
			{
				RequestID: rf.filed[0].ID, RequestNumber: rf.filed[0].RequestNumber, CreatedAt: "2026-10-10T09:00:00Z",
				SubSectorName: sectorName, HouseNo: "12", StreetNo: "4", ServiceOptionLabel: "Water Tanker",
				Status: "completed", UserName: rf.user.FullName, MobileNo: rf.user.MobileNo(),
			},
		},
	}
	if diff := cmp.Diff(wantTankers, d.TankerSummary); diff != "" {
		t.Errorf("TankerSummary mismatch (-want +got):\n%s", diff)
	}

	wantRequests := engine.RequestsSummary{
		TotalRequests: 4,
		BySubSector:   []engine.SubSectorRequests{{SubSectorID: rf.sector.ID, SubSectorName: sectorName, RequestsCount: 4}},
		ByStatus: []engine.StatusCount{
			{Status: "cancelled", RequestsCount: 1},
			{Status: "completed", RequestsCount: 1},
			{Status: "pending", RequestsCount: 2},
		},
	}
	if diff := cmp.Diff(wantRequests, d.RequestsSummary); diff != "" {
		t.Errorf("RequestsSummary mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 2, d.UsersSummary.TotalUsers)
	require.Len(t, d.UsersBySubSectorHouse, 2)
	for _, resident := range d.UsersBySubSectorHouse {
		assert.Equal(t, 2, resident.UsersInHouse)
		assert.Nil(t, resident.CNICNo)
	}

	in := d.Insights
	assert.Equal(t, 25.0, in.CompletionRate)
	assert.Equal(t, 25.0, in.CancellationRate)
	assert.Equal(t, 2, in.BacklogCount)
	assert.Equal(t, 6.0, in.AvgResolutionHours)
	assert.Equal(t, 100.0, in.RequestsGrowthPercent)
	assert.Equal(t, 100.0, in.UsersGrowthPercent)
	require.NotNil(t, in.TopSubSectorByRequests)
	assert.Equal(t, 4, in.TopSubSectorByRequests.RequestsCount)

	a := d.Analytics
	wantTrend := []engine.TrendPoint{
		{Date: "2026-10-10", Total: 1, Completed: 1},
		{Date: "2026-10-12", Total: 2, Pending: 1},
		{Date: "2026-10-18", Total: 1, Pending: 1},
	}
	if diff := cmp.Diff(wantTrend, a.DailyTrend); diff != "" {
		t.Errorf("DailyTrend mismatch (-want +got):\n%s", diff)
	}
	wantAging := []engine.AgingBucket{
		{Bucket: "0-1 day", Count: 1},
		{Bucket: "2-3 days"},
		{Bucket: "4-7 days", Count: 1},
		{Bucket: "8+ days"},
	}
	if diff := cmp.Diff(wantAging, a.AgingBuckets); diff != "" {
		t.Errorf("AgingBuckets mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []engine.RepeatHouse{{SubSectorName: sectorName, HouseNo: "12", StreetNo: "4", TotalRequests: 3}}, a.RepeatDemandHouses)
	assert.Equal(t, []engine.OptionDemand{
		{ServiceOptionLabel: "Water Tanker", RequestsCount: 2},
		{ServiceOptionLabel: "Order water", RequestsCount: 2},
	}, a.TopServiceOptions)
	require.Len(t, a.HourlyDemand, 24)
	assert.Equal(t, 2, a.HourlyDemand[10].Count)
	assert.Equal(t, 1, a.HourlyDemand[6].Count)
	assert.Equal(t, 25.0, a.StatusMixBySubSector[0].CompletionRate)
}

func TestDashboard_EmptyWindow(t *testing.T) {
	rf := newReportFixture(t)
	d, err := rf.reports.Dashboard(context.Background(), rf.admin, "custom", "2025-01-01", "2025-01-07")
	require.NoError(t, err)

	assert.Equal(t, engine.ReportCustom, d.Filter.Period)
	assert.Zero(t, d.RequestsSummary.TotalRequests)
	assert.NotNil(t, d.RequestsSummary.ByStatus)
	assert.Empty(t, d.TankerSummary.Requests)
	assert.NotNil(t, d.TankerSummary.Requests)
	assert.Len(t, d.Analytics.AgingBuckets, 4)
	assert.Zero(t, d.Insights.RequestsGrowthPercent)
	assert.Nil(t, d.Insights.TopSubSectorByRequests)

	_, err = rf.reports.Dashboard(context.Background(), rf.user, "month", "", "")
	assert.EqualError(t, err, "Admin only")
}
