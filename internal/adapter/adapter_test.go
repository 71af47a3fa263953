package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves a canned page and records the URLs it was asked for.
type fakeFetcher struct {
	body string
	err  error
	urls []string
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	return f.body, nil
}

func TestForSiteSelectsAdapterByVendorType(t *testing.T) {
	t.Parallel()

	pages := &fakeFetcher{}

	ad, err := ForSite("ost", &config.SiteConfig{Token: "t", Type: "boulderado"}, pages)
	require.NoError(t, err)
	assert.IsType(t, &BoulderadoAdapter{}, ad)

	ad, err = ForSite("mitte", &config.SiteConfig{Token: "t", Type: "webclimber", ClientID: "mitte"}, pages)
	require.NoError(t, err)
	assert.IsType(t, &WebclimberAdapter{}, ad)
}

func TestForSiteFailsClosedOnUnknownVendor(t *testing.T) {
	t.Parallel()

	_, err := ForSite("neukoelln", &config.SiteConfig{Token: "t", Type: "kletterpro"}, &fakeFetcher{})
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "neukoelln", confErr.Site)
	assert.Contains(t, confErr.Error(), "kletterpro")
}

func TestAdaptersPropagateTransportErrors(t *testing.T) {
	t.Parallel()

	fetchErr := &fetcher.TransportError{URL: "u", Err: errors.New("connection refused")}
	pages := &fakeFetcher{err: fetchErr}
	site := &config.SiteConfig{Token: "t", Type: "boulderado", ClientID: "c"}

	for _, ad := range []Adapter{NewBoulderadoAdapter(pages), NewWebclimberAdapter(pages)} {
		_, err := ad.Crawl(context.Background(), "ost", site)
		var transportErr *fetcher.TransportError
		require.ErrorAs(t, err, &transportErr, "adapter %s", ad.Vendor())
	}
}
