// Package engine - Report Engine
// Aggregates requests and registrations for the admin dashboard
package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultDailyDays = 14
	maxDailyDays     = 60
	tankerOptionSlug = "order_water_tanker"
	unknownSector    = "N/A"
)

var reportDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ReportEngine computes admin statistics
type ReportEngine struct {
	db     *gorm.DB
	clock  Clock
	logger *logrus.Logger
	policy auth.Policy
}

// NewReportEngine creates a new report engine
func NewReportEngine(db *gorm.DB, logger *logrus.Logger) *ReportEngine {
	return &ReportEngine{db: db, clock: SystemClock, logger: logger}
}

// WithClock overrides the time source
func (e *ReportEngine) WithClock(clock Clock) *ReportEngine {
	e.clock = clock
	return e
}

// =============================================================================
// SUMMARY AND DAILY COUNTS
// =============================================================================

// TypeCount is the number of requests filed under one request type
type TypeCount struct {
	RequestTypeID uint   `json:"requestTypeId"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	Count         int64  `json:"count"`
}

// StatsSummary is the all-time request total with a per-type breakdown
type StatsSummary struct {
	Total  int64       `json:"total"`
	ByType []TypeCount `json:"byType"`
}

// DailyCount is the number of requests created on one UTC date
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats returns request counts per type
func (e *ReportEngine) Stats(ctx context.Context, actor *models.User) (*StatsSummary, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)

	var rows []struct {
		RequestTypeID uint
		Count         int64
	}
	err := db.Model(&models.Request{}).
		Select("request_type_id, COUNT(*) AS count").
		Group("request_type_id").
		Order("request_type_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap(err, "count requests by type")
	}

	var types []models.RequestType
	if err := db.Find(&types).Error; err != nil {
		return nil, wrap(err, "load request types")
	}
	byID := make(map[uint]models.RequestType, len(types))
	for _, rt := range types {
		byID[rt.ID] = rt
	}

	summary := &StatsSummary{ByType: make([]TypeCount, 0, len(rows))}
	for _, row := range rows {
		tc := TypeCount{RequestTypeID: row.RequestTypeID, Name: "Unknown", Count: row.Count}
		if rt, ok := byID[row.RequestTypeID]; ok {
			tc.Name, tc.Slug = rt.Name, rt.Slug
		}
		summary.Total += row.Count
		summary.ByType = append(summary.ByType, tc)
	}
	return summary, nil
}

// ClampDays bounds the daily chart length to 1..60; zero means the default of 14
func ClampDays(days int) int {
	if days == 0 {
		return defaultDailyDays
	}
	if days < 1 {
		return 1
	}
	if days > maxDailyDays {
		return maxDailyDays
	}
	return days
}

// DailyStats returns zero-filled request counts for the last days UTC dates, today included
func (e *ReportEngine) DailyStats(ctx context.Context, actor *models.User, days int) ([]DailyCount, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	days = ClampDays(days)
	start := UTCDay(e.clock()).AddDate(0, 0, -(days - 1))

	var created []time.Time
	err := e.db.WithContext(ctx).Model(&models.Request{}).
		Where("created_at >= ?", start).
		Order("created_at ASC").
		Pluck("created_at", &created).Error
	if err != nil {
		return nil, wrap(err, "load request dates")
	}

	counts := make(map[string]int, days)
	for _, t := range created {
		counts[DateKey(t)]++
	}
	out := make([]DailyCount, days)
	for i := range out {
		key := DateKey(start.AddDate(0, 0, i))
		out[i] = DailyCount{Date: key, Count: counts[key]}
	}
	return out, nil
}

// =============================================================================
// DASHBOARD PERIOD
// =============================================================================

// ReportPeriod names the dashboard window
type ReportPeriod string

const (
	ReportToday  ReportPeriod = "today"
	ReportWeek   ReportPeriod = "week"
	ReportMonth  ReportPeriod = "month"
	ReportCustom ReportPeriod = "custom"
)

// ReportRange is a resolved dashboard window; End is exclusive
type ReportRange struct {
	Period ReportPeriod
	Start  time.Time
	End    time.Time
	From   string
	To     string
}

// Previous returns the window of equal length immediately before r
func (r ReportRange) Previous() (time.Time, time.Time) {
	length := r.End.Sub(r.Start)
	return r.Start.Add(-length), r.Start
}

// ResolveReportRange turns the query parameters into UTC bounds. Unknown periods and
// custom ranges without two valid dates fall back to the current month.
func ResolveReportRange(period, from, to string, now time.Time) ReportRange {
	today := UTCDay(now)
	lastDay := func(end time.Time) string { return DateKey(end.AddDate(0, 0, -1)) }

	switch ReportPeriod(strings.ToLower(strings.TrimSpace(period))) {
	case ReportToday:
		return ReportRange{Period: ReportToday, Start: today, End: today.AddDate(0, 0, 1), From: DateKey(today), To: DateKey(today)}
	case ReportWeek:
		start, end, _ := PeriodWeek.Range(now)
		return ReportRange{Period: ReportWeek, Start: start, End: end, From: DateKey(start), To: lastDay(end)}
	case ReportCustom:
		if start, end, ok := customRange(from, to); ok {
			return ReportRange{Period: ReportCustom, Start: start, End: end.AddDate(0, 0, 1), From: DateKey(start), To: DateKey(end)}
		}
	}
	start, end, _ := PeriodMonth.Range(now)
	return ReportRange{Period: ReportMonth, Start: start, End: end, From: DateKey(start), To: lastDay(end)}
}

func customRange(from, to string) (time.Time, time.Time, bool) {
	if !reportDatePattern.MatchString(from) || !reportDatePattern.MatchString(to) {
		return time.Time{}, time.Time{}, false
	}
	start, err1 := time.Parse("2006-01-02", from)
	end, err2 := time.Parse("2006-01-02", to)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		start, end = end, start
	}
	return start, end, true
}

// =============================================================================
// DASHBOARD PAYLOAD
// =============================================================================

// ReportFilter echoes the resolved window
type ReportFilter struct {
	Period ReportPeriod `json:"period"`
	From   string       `json:"from"`
	To     string       `json:"to"`
}

// HouseResident is a user registered in the window with their household size
type HouseResident struct {
	SubSectorID   uint    `json:"subSectorId"`
	SubSectorName string  `json:"subSectorName"`
	HouseNo       string  `json:"houseNo"`
	StreetNo      string  `json:"streetNo"`
	UserName      string  `json:"userName"`
	CNICNo        *string `json:"cnicNo"`
	MobileNo      string  `json:"mobileNo"`
	UsersInHouse  int     `json:"usersInHouse"`
}

// HouseDateStatus counts requests per address, UTC date and status
type HouseDateStatus struct {
	SubSectorID   uint   `json:"subSectorId"`
	SubSectorName string `json:"subSectorName"`
	HouseNo       string `json:"houseNo"`
	StreetNo      string `json:"streetNo"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	RequestCount  int    `json:"requestCount"`
}

// SubSectorUsers counts registrations in a sub-sector
type SubSectorUsers struct {
	SubSectorID   uint   `json:"subSectorId"`
	SubSectorName string `json:"subSectorName"`
	UsersCount    int    `json:"usersCount"`
}

// SubSectorRequests counts requests in a sub-sector
type SubSectorRequests struct {
	SubSectorID   uint   `json:"subSectorId"`
	SubSectorName string `json:"subSectorName"`
	RequestsCount int    `json:"requestsCount"`
}

// StatusCount counts requests in one status
type StatusCount struct {
	Status        string `json:"status"`
	RequestsCount int    `json:"requestsCount"`
}

// UsersSummary totals registrations in the window
type UsersSummary struct {
	TotalUsers  int              `json:"totalUsers"`
	BySubSector []SubSectorUsers `json:"bySubSector"`
}

// RequestsSummary totals requests in the window
type RequestsSummary struct {
	TotalRequests int                 `json:"totalRequests"`
	BySubSector   []SubSectorRequests `json:"bySubSector"`
	ByStatus      []StatusCount       `json:"byStatus"`
}

// TankerSubSector is water tanker demand in one sub-sector
type TankerSubSector struct {
	SubSectorID   uint   `json:"subSectorId"`
	SubSectorName string `json:"subSectorName"`
	Requested     int    `json:"requested"`
	Delivered     int    `json:"delivered"`
	Pending       int    `json:"pending"`
}

// TankerRequest is one water tanker order
type TankerRequest struct {
	RequestID          uint    `json:"requestId"`
	RequestNumber      *string `json:"requestNumber"`
	CreatedAt          string  `json:"createdAt"`
	SubSectorName      string  `json:"subSectorName"`
	HouseNo            string  `json:"houseNo"`
	StreetNo           string  `json:"streetNo"`
	ServiceOptionLabel string  `json:"serviceOptionLabel"`
	Status             string  `json:"status"`
	UserName           string  `json:"userName"`
	MobileNo           string  `json:"mobileNo"`
}

// TankerSummary reports water tanker orders
type TankerSummary struct {
	Requested   int               `json:"requested"`
	Delivered   int               `json:"delivered"`
	Pending     int               `json:"pending"`
	Cancelled   int               `json:"cancelled"`
	BySubSector []TankerSubSector `json:"bySubSector"`
	Requests    []TankerRequest   `json:"requests"`
}

// Insights are headline rates for the window
type Insights struct {
	CompletionRate         float64            `json:"completionRate"`
	CancellationRate       float64            `json:"cancellationRate"`
	BacklogCount           int                `json:"backlogCount"`
	AvgResolutionHours     float64            `json:"avgResolutionHours"`
	RequestsGrowthPercent  float64            `json:"requestsGrowthPercent"`
	UsersGrowthPercent     float64            `json:"usersGrowthPercent"`
	TopSubSectorByRequests *SubSectorRequests `json:"topSubSectorByRequests"`
	TopSubSectorByUsers    *SubSectorUsers    `json:"topSubSectorByUsers"`
}

// TrendPoint is one day of the request trend
type TrendPoint struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
}

// TypeDemand counts requests of one type
type TypeDemand struct {
	RequestTypeName string `json:"requestTypeName"`
	RequestTypeSlug string `json:"requestTypeSlug"`
	RequestsCount   int    `json:"requestsCount"`
}

// OptionDemand counts requests of one service option
type OptionDemand struct {
	ServiceOptionLabel string `json:"serviceOptionLabel"`
	RequestsCount      int    `json:"requestsCount"`
}

// HouseDemand counts requests from one address
type HouseDemand struct {
	SubSectorName   string `json:"subSectorName"`
	HouseNo         string `json:"houseNo"`
	StreetNo        string `json:"streetNo"`
	TotalRequests   int    `json:"totalRequests"`
	PendingRequests int    `json:"pendingRequests"`
}

// RepeatHouse is an address with more than one request
type RepeatHouse struct {
	SubSectorName string `json:"subSectorName"`
	HouseNo       string `json:"houseNo"`
	StreetNo      string `json:"streetNo"`
	TotalRequests int    `json:"totalRequests"`
}

// SubSectorPerformance compares demand and completion per sub-sector
type SubSectorPerformance struct {
	SubSectorID    uint    `json:"subSectorId"`
	SubSectorName  string  `json:"subSectorName"`
	UsersCount     int     `json:"usersCount"`
	RequestsCount  int     `json:"requestsCount"`
	CompletedCount int     `json:"completedCount"`
	CompletionRate float64 `json:"completionRate"`
}

// StatusMix breaks a sub-sector's requests down by status
type StatusMix struct {
	SubSectorID     uint    `json:"subSectorId"`
	SubSectorName   string  `json:"subSectorName"`
	TotalRequests   int     `json:"totalRequests"`
	PendingCount    int     `json:"pendingCount"`
	InProgressCount int     `json:"inProgressCount"`
	CompletedCount  int     `json:"completedCount"`
	CancelledCount  int     `json:"cancelledCount"`
	CompletionRate  float64 `json:"completionRate"`
}

// AgingBucket counts open requests by age
type AgingBucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// HourCount counts requests created in one UTC hour of day
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// Analytics holds the chart series
type Analytics struct {
	DailyTrend           []TrendPoint           `json:"dailyTrend"`
	TopRequestTypes      []TypeDemand           `json:"topRequestTypes"`
	TopServiceOptions    []OptionDemand         `json:"topServiceOptions"`
	TopHouses            []HouseDemand          `json:"topHouses"`
	SubSectorPerformance []SubSectorPerformance `json:"subSectorPerformance"`
	StatusMixBySubSector []StatusMix            `json:"statusMixBySubSector"`
	AgingBuckets         []AgingBucket          `json:"agingBuckets"`
	RepeatDemandHouses   []RepeatHouse          `json:"repeatDemandHouses"`
	HourlyDemand         []HourCount            `json:"hourlyDemand"`
}

// Dashboard is the full admin report
type Dashboard struct {
	Filter                     ReportFilter      `json:"filter"`
	UsersBySubSectorHouse      []HouseResident   `json:"usersBySubSectorHouse"`
	RequestsPerHouseDateStatus []HouseDateStatus `json:"requestsPerHouseDateStatus"`
	UsersSummary               UsersSummary      `json:"usersSummary"`
	RequestsSummary            RequestsSummary   `json:"requestsSummary"`
	TankerSummary              TankerSummary     `json:"tankerSummary"`
	Insights                   Insights          `json:"insights"`
	Analytics                  Analytics         `json:"analytics"`
}

// =============================================================================
// DASHBOARD COMPUTATION
// =============================================================================

// Dashboard builds the admin report for the requested window. The window's rows and
// the previous window's counts are loaded concurrently; aggregation happens in memory.
func (e *ReportEngine) Dashboard(ctx context.Context, actor *models.User, period, from, to string) (*Dashboard, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	now := e.clock().UTC()
	rng := ResolveReportRange(period, from, to, now)
	prevStart, prevEnd := rng.Previous()

	var (
		requests      []models.Request
		users         []models.User
		prevRequests  int64
		prevUsers     int64
		loadStartedAt = time.Now()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := e.db.WithContext(gctx).
			Preload("RequestType").Preload("RequestTypeOption").Preload("SubSector").Preload("User").
			Where("created_at >= ? AND created_at < ?", rng.Start, rng.End).
			Order("created_at ASC").Order("id ASC").
			Find(&requests).Error
		return wrap(err, "load requests")
	})
	g.Go(func() error {
		err := e.db.WithContext(gctx).Preload("SubSector").
			Where("created_at >= ? AND created_at < ?", rng.Start, rng.End).
			Order("id ASC").
			Find(&users).Error
		return wrap(err, "load users")
	})
	g.Go(func() error {
		err := e.db.WithContext(gctx).Model(&models.Request{}).
			Where("created_at >= ? AND created_at < ?", prevStart, prevEnd).
			Count(&prevRequests).Error
		return wrap(err, "count previous requests")
	})
	g.Go(func() error {
		err := e.db.WithContext(gctx).Model(&models.User{}).
			Where("created_at >= ? AND created_at < ?", prevStart, prevEnd).
			Count(&prevUsers).Error
		return wrap(err, "count previous users")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"range":    rng.String(),
		"requests": len(requests),
		"users":    len(users),
		"load_ms":  time.Since(loadStartedAt).Milliseconds(),
	}).Debug("Dashboard data loaded")

	d := &Dashboard{Filter: ReportFilter{Period: rng.Period, From: rng.From, To: rng.To}}
	d.UsersBySubSectorHouse = houseResidents(users)
	d.UsersSummary = summarizeUsers(users)
	d.RequestsPerHouseDateStatus = houseDateStatuses(requests)
	d.RequestsSummary = summarizeRequests(requests)
	d.TankerSummary = summarizeTankers(requests)
	d.Analytics = analyze(requests, d.UsersSummary, now)
	d.Insights = insights(requests, d.UsersSummary, d.RequestsSummary, prevRequests, prevUsers)
	return d, nil
}

func sectorOf(ss *models.SubSector) string {
	if ss == nil {
		return unknownSector
	}
	return ss.Name
}

func rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func growth(current, previous int64) float64 {
	if previous > 0 {
		return round1(float64(current-previous) / float64(previous) * 100)
	}
	if current > 0 {
		return 100
	}
	return 0
}

func houseResidents(users []models.User) []HouseResident {
	type houseKey struct {
		sector uint
		house  string
	}
	perHouse := make(map[houseKey]int)
	for _, u := range users {
		perHouse[houseKey{u.SubSectorID, u.HouseNo}]++
	}

	out := make([]HouseResident, 0, len(users))
	for _, u := range users {
		out = append(out, HouseResident{
			SubSectorID:   u.SubSectorID,
			SubSectorName: sectorOf(u.SubSector),
			HouseNo:       u.HouseNo,
			StreetNo:      strings.TrimSpace(u.StreetNo),
			UserName:      u.FullName,
			MobileNo:      u.MobileNo(),
			UsersInHouse:  perHouse[houseKey{u.SubSectorID, u.HouseNo}],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SubSectorName != b.SubSectorName {
			return a.SubSectorName < b.SubSectorName
		}
		if a.HouseNo != b.HouseNo {
			return a.HouseNo < b.HouseNo
		}
		return a.UserName < b.UserName
	})
	return out
}

func summarizeUsers(users []models.User) UsersSummary {
	index := make(map[uint]int)
	summary := UsersSummary{TotalUsers: len(users), BySubSector: []SubSectorUsers{}}
	for _, u := range users {
		i, ok := index[u.SubSectorID]
		if !ok {
			i = len(summary.BySubSector)
			index[u.SubSectorID] = i
			summary.BySubSector = append(summary.BySubSector, SubSectorUsers{
				SubSectorID:   u.SubSectorID,
				SubSectorName: sectorOf(u.SubSector),
			})
		}
		summary.BySubSector[i].UsersCount++
	}
	sort.SliceStable(summary.BySubSector, func(i, j int) bool {
		return summary.BySubSector[i].SubSectorName < summary.BySubSector[j].SubSectorName
	})
	return summary
}

func houseDateStatuses(requests []models.Request) []HouseDateStatus {
	type key struct {
		sector uint
		house  string
		street string
		date   string
		status string
	}
	index := make(map[key]int)
	out := []HouseDateStatus{}
	for _, r := range requests {
		k := key{r.SubSectorID, r.HouseNo, r.StreetNo, DateKey(r.CreatedAt), string(r.Status.Normalized())}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, HouseDateStatus{
				SubSectorID:   r.SubSectorID,
				SubSectorName: sectorOf(r.SubSector),
				HouseNo:       r.HouseNo,
				StreetNo:      r.StreetNo,
				Date:          k.date,
				Status:        k.status,
			})
		}
		out[i].RequestCount++
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.SubSectorName != b.SubSectorName {
			return a.SubSectorName < b.SubSectorName
		}
		return a.HouseNo < b.HouseNo
	})
	return out
}

func summarizeRequests(requests []models.Request) RequestsSummary {
	summary := RequestsSummary{
		TotalRequests: len(requests),
		BySubSector:   []SubSectorRequests{},
		ByStatus:      []StatusCount{},
	}
	sectors := make(map[uint]int)
	statuses := make(map[string]int)
	for _, r := range requests {
		i, ok := sectors[r.SubSectorID]
		if !ok {
			i = len(summary.BySubSector)
			sectors[r.SubSectorID] = i
			summary.BySubSector = append(summary.BySubSector, SubSectorRequests{
				SubSectorID:   r.SubSectorID,
				SubSectorName: sectorOf(r.SubSector),
			})
		}
		summary.BySubSector[i].RequestsCount++

		status := string(r.Status.Normalized())
		j, ok := statuses[status]
		if !ok {
			j = len(summary.ByStatus)
			statuses[status] = j
			summary.ByStatus = append(summary.ByStatus, StatusCount{Status: status})
		}
		summary.ByStatus[j].RequestsCount++
	}
	sort.SliceStable(summary.BySubSector, func(i, j int) bool {
		return summary.BySubSector[i].SubSectorName < summary.BySubSector[j].SubSectorName
	})
	sort.SliceStable(summary.ByStatus, func(i, j int) bool {
		return summary.ByStatus[i].Status < summary.ByStatus[j].Status
	})
	return summary
}

func isTanker(r *models.Request) bool {
	opt := r.RequestTypeOption
	return opt != nil && opt.Slug != nil && strings.ToLower(*opt.Slug) == tankerOptionSlug
}

func summarizeTankers(requests []models.Request) TankerSummary {
	summary := TankerSummary{BySubSector: []TankerSubSector{}, Requests: []TankerRequest{}}
	sectors := make(map[uint]int)

	for idx := range requests {
		r := &requests[idx]
		if !isTanker(r) {
			continue
		}
		delivered := r.Status.IsCompleted()
		summary.Requested++
		if delivered {
			summary.Delivered++
		}
		if r.Status == models.StatusCancelled {
			summary.Cancelled++
		}

		i, ok := sectors[r.SubSectorID]
		if !ok {
			i = len(summary.BySubSector)
			sectors[r.SubSectorID] = i
			summary.BySubSector = append(summary.BySubSector, TankerSubSector{
				SubSectorID:   r.SubSectorID,
				SubSectorName: sectorOf(r.SubSector),
			})
		}
		summary.BySubSector[i].Requested++
		if delivered {
			summary.BySubSector[i].Delivered++
		}

		label := "Water Tanker"
		if r.RequestTypeOption.Label != "" {
			label = r.RequestTypeOption.Label
		}
		userName, mobile := unknownSector, ""
		if r.User != nil {
			userName, mobile = r.User.FullName, r.User.MobileNo()
		}
		summary.Requests = append(summary.Requests, TankerRequest{
			RequestID:          r.ID,
			RequestNumber:      r.RequestNumber,
			CreatedAt:          r.CreatedAt.UTC().Format(time.RFC3339),
			SubSectorName:      sectorOf(r.SubSector),
			HouseNo:            r.HouseNo,
			StreetNo:           r.StreetNo,
			ServiceOptionLabel: label,
			Status:             string(r.Status.Normalized()),
			UserName:           userName,
			MobileNo:           mobile,
		})
	}

	summary.Pending = max(0, summary.Requested-summary.Delivered-summary.Cancelled)
	for i := range summary.BySubSector {
		row := &summary.BySubSector[i]
		row.Pending = max(0, row.Requested-row.Delivered)
	}
	sort.SliceStable(summary.BySubSector, func(i, j int) bool {
		return summary.BySubSector[i].SubSectorName < summary.BySubSector[j].SubSectorName
	})
	// newest first
	for i, j := 0, len(summary.Requests)-1; i < j; i, j = i+1, j-1 {
		summary.Requests[i], summary.Requests[j] = summary.Requests[j], summary.Requests[i]
	}
	return summary
}

// AgingBucketFor places an open request of the given age into its dashboard bucket
func AgingBucketFor(age time.Duration) string {
	days := age.Hours() / 24
	switch {
	case days <= 1:
		return "0-1 day"
	case days <= 3:
		return "2-3 days"
	case days <= 7:
		return "4-7 days"
	default:
		return "8+ days"
	}
}

func analyze(requests []models.Request, users UsersSummary, now time.Time) Analytics {
	a := Analytics{
		DailyTrend:           []TrendPoint{},
		TopRequestTypes:      []TypeDemand{},
		TopServiceOptions:    []OptionDemand{},
		TopHouses:            []HouseDemand{},
		SubSectorPerformance: []SubSectorPerformance{},
		StatusMixBySubSector: []StatusMix{},
		RepeatDemandHouses:   []RepeatHouse{},
	}

	type houseKey struct{ sector, house, street string }
	var (
		days    = map[string]int{}
		types   = map[string]int{}
		options = map[string]int{}
		houses  = map[houseKey]int{}
		perf    = map[uint]int{}
		mix     = map[uint]int{}
		hourly  [24]int
		aging   = map[string]int{}
	)

	for idx := range requests {
		r := &requests[idx]
		completed, open := r.Status.IsCompleted(), r.Status.IsOpen()
		sector := sectorOf(r.SubSector)

		date := DateKey(r.CreatedAt)
		i, ok := days[date]
		if !ok {
			i = len(a.DailyTrend)
			days[date] = i
			a.DailyTrend = append(a.DailyTrend, TrendPoint{Date: date})
		}
		a.DailyTrend[i].Total++
		if completed {
			a.DailyTrend[i].Completed++
		}
		if open {
			a.DailyTrend[i].Pending++
		}

		typeName, typeSlug := "Unknown", ""
		if r.RequestType != nil {
			typeName, typeSlug = r.RequestType.Name, r.RequestType.Slug
		}
		typeKey := typeSlug + "::" + typeName
		if i, ok = types[typeKey]; !ok {
			i = len(a.TopRequestTypes)
			types[typeKey] = i
			a.TopRequestTypes = append(a.TopRequestTypes, TypeDemand{RequestTypeName: typeName, RequestTypeSlug: typeSlug})
		}
		a.TopRequestTypes[i].RequestsCount++

		label := "General"
		if r.RequestTypeOption != nil {
			label = r.RequestTypeOption.Label
		}
		if i, ok = options[label]; !ok {
			i = len(a.TopServiceOptions)
			options[label] = i
			a.TopServiceOptions = append(a.TopServiceOptions, OptionDemand{ServiceOptionLabel: label})
		}
		a.TopServiceOptions[i].RequestsCount++

		hk := houseKey{sector, r.HouseNo, r.StreetNo}
		if i, ok = houses[hk]; !ok {
			i = len(a.TopHouses)
			houses[hk] = i
			a.TopHouses = append(a.TopHouses, HouseDemand{SubSectorName: sector, HouseNo: r.HouseNo, StreetNo: r.StreetNo})
		}
		a.TopHouses[i].TotalRequests++
		if open {
			a.TopHouses[i].PendingRequests++
		}

		if i, ok = perf[r.SubSectorID]; !ok {
			i = len(a.SubSectorPerformance)
			perf[r.SubSectorID] = i
			a.SubSectorPerformance = append(a.SubSectorPerformance, SubSectorPerformance{SubSectorID: r.SubSectorID, SubSectorName: sector})
		}
		a.SubSectorPerformance[i].RequestsCount++
		if completed {
			a.SubSectorPerformance[i].CompletedCount++
		}

		if i, ok = mix[r.SubSectorID]; !ok {
			i = len(a.StatusMixBySubSector)
			mix[r.SubSectorID] = i
			a.StatusMixBySubSector = append(a.StatusMixBySubSector, StatusMix{SubSectorID: r.SubSectorID, SubSectorName: sector})
		}
		m := &a.StatusMixBySubSector[i]
		m.TotalRequests++
		switch {
		case r.Status == models.StatusPending:
			m.PendingCount++
		case r.Status == models.StatusInProgress:
			m.InProgressCount++
		case completed:
			m.CompletedCount++
		case r.Status == models.StatusCancelled:
			m.CancelledCount++
		}

		hourly[r.CreatedAt.UTC().Hour()]++
		if open {
			aging[AgingBucketFor(now.Sub(r.CreatedAt))]++
		}
	}

	// rows arrive in created_at order, so the trend is already sorted by date
	byCount := func(count func(int) int) func(i, j int) bool {
		return func(i, j int) bool { return count(i) > count(j) }
	}
	sort.SliceStable(a.TopRequestTypes, byCount(func(i int) int { return a.TopRequestTypes[i].RequestsCount }))
	a.TopRequestTypes = limit(a.TopRequestTypes, 8)
	sort.SliceStable(a.TopServiceOptions, byCount(func(i int) int { return a.TopServiceOptions[i].RequestsCount }))
	a.TopServiceOptions = limit(a.TopServiceOptions, 8)
	sort.SliceStable(a.TopHouses, byCount(func(i int) int { return a.TopHouses[i].TotalRequests }))

	for _, h := range a.TopHouses {
		if h.TotalRequests >= 2 && len(a.RepeatDemandHouses) < 10 {
			a.RepeatDemandHouses = append(a.RepeatDemandHouses, RepeatHouse{
				SubSectorName: h.SubSectorName,
				HouseNo:       h.HouseNo,
				StreetNo:      h.StreetNo,
				TotalRequests: h.TotalRequests,
			})
		}
	}
	a.TopHouses = limit(a.TopHouses, 10)

	usersBySector := make(map[uint]int, len(users.BySubSector))
	for _, row := range users.BySubSector {
		usersBySector[row.SubSectorID] = row.UsersCount
	}
	for i := range a.SubSectorPerformance {
		p := &a.SubSectorPerformance[i]
		p.UsersCount = usersBySector[p.SubSectorID]
		p.CompletionRate = rate(p.CompletedCount, p.RequestsCount)
	}
	sort.SliceStable(a.SubSectorPerformance, byCount(func(i int) int { return a.SubSectorPerformance[i].RequestsCount }))
	for i := range a.StatusMixBySubSector {
		m := &a.StatusMixBySubSector[i]
		m.CompletionRate = rate(m.CompletedCount, m.TotalRequests)
	}
	sort.SliceStable(a.StatusMixBySubSector, byCount(func(i int) int { return a.StatusMixBySubSector[i].TotalRequests }))

	for _, bucket := range []string{"0-1 day", "2-3 days", "4-7 days", "8+ days"} {
		a.AgingBuckets = append(a.AgingBuckets, AgingBucket{Bucket: bucket, Count: aging[bucket]})
	}
	a.HourlyDemand = make([]HourCount, 24)
	for h := range a.HourlyDemand {
		a.HourlyDemand[h] = HourCount{Hour: h, Count: hourly[h]}
	}
	return a
}

func limit[T any](rows []T, n int) []T {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

func insights(requests []models.Request, users UsersSummary, summary RequestsSummary, prevRequests, prevUsers int64) Insights {
	var (
		completed, cancelled, backlog int
		resolvedHours                 float64
		resolved                      int
	)
	for _, r := range requests {
		switch {
		case r.Status.IsCompleted():
			completed++
			if r.UpdatedAt.After(r.CreatedAt) {
				resolvedHours += r.UpdatedAt.Sub(r.CreatedAt).Hours()
				resolved++
			}
		case r.Status == models.StatusCancelled:
			cancelled++
		case r.Status.IsOpen():
			backlog++
		}
	}

	in := Insights{
		CompletionRate:        rate(completed, summary.TotalRequests),
		CancellationRate:      rate(cancelled, summary.TotalRequests),
		BacklogCount:          backlog,
		RequestsGrowthPercent: growth(int64(summary.TotalRequests), prevRequests),
		UsersGrowthPercent:    growth(int64(users.TotalUsers), prevUsers),
	}
	if resolved > 0 {
		in.AvgResolutionHours = round1(resolvedHours / float64(resolved))
	}

	for i := range summary.BySubSector {
		row := summary.BySubSector[i]
		if in.TopSubSectorByRequests == nil || row.RequestsCount > in.TopSubSectorByRequests.RequestsCount {
			in.TopSubSectorByRequests = &row
		}
	}
	for i := range users.BySubSector {
		row := users.BySubSector[i]
		if in.TopSubSectorByUsers == nil || row.UsersCount > in.TopSubSectorByUsers.UsersCount {
			in.TopSubSectorByUsers = &row
		}
	}
	return in
}

// String renders the range for logs
func (r ReportRange) String() string {
	return fmt.Sprintf("%s [%s, %s)", r.Period, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
