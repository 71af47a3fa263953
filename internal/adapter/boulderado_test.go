package adapter

import (
	"context"
	"testing"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boulderadoPage = `<html><body>
<div class="actcounter zoom"><div class="actcounter-content"><span data-value="12">12</span></div></div>
<div class="freecounter zoom"><div class="freecounter-content"><span data-value="8">8</span></div></div>
</body></html>`

func TestBoulderadoExtractsBothCounters(t *testing.T) {
	t.Parallel()

	pages := &fakeFetcher{body: boulderadoPage}
	ad := NewBoulderadoAdapter(pages)

	result, err := ad.Crawl(context.Background(), "ost", &config.SiteConfig{Token: "secret"})
	require.NoError(t, err)
	assert.Equal(t, 8, result.Free)
	assert.Equal(t, 12, result.Active)
	require.Len(t, pages.urls, 1)
	assert.Equal(t,
		"https://www.boulderado.de/boulderadoweb/gym-clientcounter/index.php?mode=get&token=secret",
		pages.urls[0])
}

func TestBoulderadoMissingCounterIsExtractionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{
			name: "no active counter",
			body: `<div class="freecounter-content"><span>8</span></div>`,
		},
		{
			name: "no free counter",
			body: `<div class="actcounter-content"><span>12</span></div>`,
		},
		{
			name: "empty page",
			body: `<html><body></body></html>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := NewBoulderadoAdapter(&fakeFetcher{body: tt.body})
			_, err := ad.Crawl(context.Background(), "ost", &config.SiteConfig{Token: "t"})
			var extractionErr *ExtractionError
			require.ErrorAs(t, err, &extractionErr)
			assert.Equal(t, "ost", extractionErr.Site)
		})
	}
}

func TestBoulderadoNonNumericCounterIsExtractionError(t *testing.T) {
	t.Parallel()

	body := `<div class="actcounter-content"><span>viele</span></div>
<div class="freecounter-content"><span>8</span></div>`
	ad := NewBoulderadoAdapter(&fakeFetcher{body: body})

	_, err := ad.Crawl(context.Background(), "ost", &config.SiteConfig{Token: "t"})
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}
