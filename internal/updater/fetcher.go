package updater

import (
	"context"

	"github.com/Resinat/Relayd/internal/netutil"
	"github.com/Resinat/Relayd/internal/relay"
)

// HTTPFetcher downloads the relay list document from URL.
type HTTPFetcher struct {
	Downloader netutil.Downloader
	URL        string
}

// FetchRelayList issues a conditional request on etag. The returned list
// carries the ETag of the response when the server sent one.
func (f *HTTPFetcher) FetchRelayList(ctx context.Context, etag string) (*relay.RelayList, error) {
	doc, err := f.Downloader.Download(ctx, f.URL, etag)
	if err != nil {
		return nil, err
	}
	if doc.NotModified {
		return nil, nil
	}
	list, err := relay.ParseRelayList(doc.Body)
	if err != nil {
		return nil, err
	}
	if doc.ETag != "" {
		list.ETag = doc.ETag
	}
	return list, nil
}
