package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReportKind(t *testing.T) {
	tests := []struct {
		in   string
		want ReportKind
	}{
		{"ANNUAL", KindAnnual},
		{"annual", KindAnnual},
		{"年度报告", KindAnnual},
		{"年报", KindAnnual},
		{"semi_annual", KindSemiAnnual},
		{"半年报", KindSemiAnnual},
		{"q1", KindQ1},
		{"第三季度报告", KindQ3},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReportKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseReportKind("Q2")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClassifyTitle(t *testing.T) {
	tests := []struct {
		title string
		kind  ReportKind
		ok    bool
	}{
		{"贵州茅台2023年年度报告", KindAnnual, true},
		{"贵州茅台2023年年度报告摘要", "", false},
		{"贵州茅台2023年年度报告（英文版）", "", false},
		{"贵州茅台2023年半年度报告", KindSemiAnnual, true},
		{"贵州茅台2023年第一季度报告", KindQ1, true},
		{"贵州茅台2023年第三季度报告", KindQ3, true},
		{"关于召开2023年度股东大会的通知", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			kind, ok := ClassifyTitle(tt.title)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestTitleYear(t *testing.T) {
	y, ok := TitleYear("平安银行：2022年年度报告")
	require.True(t, ok)
	assert.Equal(t, 2022, y)

	_, ok = TitleYear("年度报告")
	assert.False(t, ok)
}

func TestReportIdentityValidate(t *testing.T) {
	valid := ReportIdentity{EntityCode: "600519", FiscalYear: 2023, Kind: KindAnnual}
	require.NoError(t, valid.Validate())
	assert.Equal(t, "600519/2023/annual", valid.Key())

	bad := []ReportIdentity{
		{EntityCode: "", FiscalYear: 2023, Kind: KindAnnual},
		{EntityCode: "../etc", FiscalYear: 2023, Kind: KindAnnual},
		{EntityCode: "600519", FiscalYear: 1980, Kind: KindAnnual},
		{EntityCode: "600519", FiscalYear: 2023, Kind: "Q2"},
	}
	for _, id := range bad {
		assert.ErrorIs(t, id.Validate(), ErrInvalidInput, "%+v", id)
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, KindNotFound, ErrorKind(fmt.Errorf("fetch: %w", ErrNotFound)))
	assert.Equal(t, KindNetworkError, ErrorKind(fmt.Errorf("download: %w", ErrNetwork)))
	assert.Equal(t, KindStorageError, ErrorKind(fmt.Errorf("put: %w", ErrStorage)))
	assert.Equal(t, KindInternal, ErrorKind(errors.New("boom")))
	assert.Equal(t, KindNetworkError, ErrorKind(fmt.Errorf("search: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindAnalysisError, ErrorKind(fmt.Errorf("%w: %w", ErrAnalysisProvider, context.DeadlineExceeded)))
	assert.Equal(t, KindInternal, ErrorKind(context.Canceled))
}

func TestAmountJSON(t *testing.T) {
	data, err := json.Marshal(Missing())
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":null,"status":"not_found"}`, string(data))

	data, err = json.Marshal(Value(0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":0,"status":"found"}`, string(data))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`{"value":12.5,"status":"found"}`), &a))
	assert.True(t, a.Found)
	assert.Equal(t, 12.5, a.Value)
}

func TestRatioJSON(t *testing.T) {
	data, err := json.Marshal(Ratio{Unit: UnitPercent, Reason: "denominator is zero"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":null,"unit":"percent","status":"not_computable","reason":"denominator is zero"}`, string(data))
}

func TestNewFinancialMetricsTagsEveryItem(t *testing.T) {
	m := NewFinancialMetrics()
	assert.Len(t, m.Items, len(AllLineItems))
	for _, item := range AllLineItems {
		assert.False(t, m.Get(item).Found, item)
	}
	m.Set(ItemRevenue, Amount{Value: 100})
	assert.Equal(t, 1, m.FoundCount())
}
