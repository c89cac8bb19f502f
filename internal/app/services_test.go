package app

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/finreport/internal/agent"
	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/datasource"
	"github.com/seenimoa/finreport/internal/fetch"
	"github.com/seenimoa/finreport/internal/store"
	"github.com/seenimoa/finreport/pkg/models"
)

func sourceConfig() config.SourceConfig {
	return config.SourceConfig{
		ListingURL:  "http://listing.test/search",
		StaticURL:   "http://static.test/",
		MinInterval: time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestNewSourceCninfoOnly(t *testing.T) {
	src := NewSource(sourceConfig(), nil)
	_, ok := src.(*datasource.Cninfo)
	assert.True(t, ok, "got %T", src)
}

func TestNewSourceWithFeed(t *testing.T) {
	cfg := sourceConfig()
	cfg.FeedURL = "http://feed.test/{code}.xml"

	src := NewSource(cfg, nil)
	agg, ok := src.(*datasource.Aggregator)
	require.True(t, ok, "got %T", src)
	require.Len(t, agg.Sources(), 2)
	assert.IsType(t, &datasource.Cninfo{}, agg.Sources()[0])
	assert.IsType(t, &datasource.Feed{}, agg.Sources()[1])
}

// emptySource lists nothing.
type emptySource struct{}

func (emptySource) SearchReports(context.Context, string, int, models.ReportKind) ([]models.Listing, error) {
	return []models.Listing{}, nil
}
func (emptySource) Download(context.Context, string) (*datasource.Document, error) {
	return nil, models.ErrNotFound
}
func (emptySource) Head(context.Context, string) (*datasource.RemoteMeta, error) {
	return nil, models.ErrNotFound
}

func newServices(t *testing.T, cfg *config.Config) *Services {
	t.Helper()
	return New(cfg, nil,
		WithSource(emptySource{}),
		WithStore(store.New("/data", store.WithFs(afero.NewMemMapFs()))),
	)
}

func TestNewWithoutProviderKeys(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Primary = "deepseek"

	svc := newServices(t, cfg)
	assert.Nil(t, svc.LLM)
	require.NotNil(t, svc.Analyst)
	require.NotNil(t, svc.Fetcher)
	require.NotNil(t, svc.Extractor)
}

func TestNewBuildsRouterFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Primary = "openai"
	cfg.LLM.OpenAIKey = "sk-test-key-123456"

	svc := newServices(t, cfg)
	require.NotNil(t, svc.LLM)
	assert.Equal(t, []string{"openai"}, svc.LLM.ProviderNames())
}

func TestSubscribersReceiveFetchEvents(t *testing.T) {
	svc := newServices(t, &config.Config{})

	var got []fetch.EventType
	svc.Subscribe(func(e fetch.Event) { got = append(got, e.Type) })
	svc.Subscribe(func(e fetch.Event) { got = append(got, e.Type) })

	_, err := svc.Fetcher.Fetch(context.Background(), "600519", 2023, models.KindAnnual)
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, []fetch.EventType{
		fetch.EventStarted, fetch.EventStarted,
		fetch.EventFailed, fetch.EventFailed,
	}, got)
}

func TestAnalystWithoutProviderStillAcquires(t *testing.T) {
	svc := newServices(t, &config.Config{})

	rep, err := svc.Analyst.Analyze(context.Background(), agent.Request{
		EntityCode: "600519", Year: 2023, Kind: models.KindAnnual,
	})
	require.NoError(t, err)
	assert.Equal(t, agent.StageFailed, rep.Acquisition.Status)
	assert.Equal(t, models.KindNotFound, rep.Acquisition.ErrorKind)
	assert.Equal(t, agent.StageSkipped, rep.Analysis.Status)
}
