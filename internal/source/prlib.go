package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/booksnap/booksnap/internal/http"
	"github.com/booksnap/booksnap/internal/model"
)

// prlibScanURL addresses one zoomable page scan on the Presidential
// Library image server. Parameters: two manifest path ids, image name.
const prlibScanURL = "https://content.prlib.ru/fcgi-bin/iipsrv.fcgi?FIF=/var/data/scans/public/%s/%s/%s&JTL=2,0&CVT=JPEG"

// TileFetcher downloads one zoomable (tiled) page image into a local
// file. The concrete implementation shells out to dezoomify-rs; tests
// substitute a fake. Implementations must write destPath atomically.
type TileFetcher interface {
	Fetch(ctx context.Context, tileURL, destPath string) error
}

// PrLib is the source strategy for prlib.ru (Presidential Library).
//
// Book pages are served as zoomable tiled scans, so page downloads are
// delegated to a TileFetcher rather than fetched as plain images.
type PrLib struct {
	client *http.Client
	tiles  TileFetcher
}

// NewPrLib creates the prlib.ru strategy.
func NewPrLib(client *http.Client, tiles TileFetcher) *PrLib {
	return &PrLib{client: client, tiles: tiles}
}

// Tag implements Strategy.
func (p *PrLib) Tag() string { return "prlib" }

// CanHandle implements Strategy.
func (p *PrLib) CanHandle(bookURL string) bool {
	return strings.Contains(bookURL, "prlib.ru")
}

// Policy implements Strategy. The image server tolerates a couple of
// parallel tile sessions without throttling.
func (p *PrLib) Policy() Policy {
	return Policy{MaxConcurrent: 2, RequestDelay: 0}
}

// ResolveID implements Strategy. Item URLs look like
// https://www.prlib.ru/item/331483; the item id is the last path segment.
func (p *PrLib) ResolveID(bookURL string) (model.BookID, error) {
	u, err := url.Parse(bookURL)
	if err != nil {
		return model.BookID{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	itemID := lastPathSegment(u.Path)
	if itemID == "" {
		return model.BookID{}, fmt.Errorf("%w: no item id in %s", ErrInvalidURL, bookURL)
	}
	return model.BookID{Source: p.Tag(), ItemID: itemID}, nil
}

// prlibManifest is the technical JSON document referenced from an item
// page; pgs lists the scan image names in page order.
type prlibManifest struct {
	Pgs []struct {
		F string `json:"f"`
	} `json:"pgs"`
}

// FetchMetadata implements Strategy.
func (p *PrLib) FetchMetadata(ctx context.Context, bookURL string) (*model.Metadata, error) {
	html, err := p.client.GetString(ctx, bookURL)
	if err != nil {
		return nil, fmt.Errorf("fetch item page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse item page: %w", err)
	}

	title, _ := doc.Find(`meta[itemprop="name"]`).Attr("content")
	title = strings.TrimSpace(title)
	author := strings.TrimSpace(doc.Find(`a[href*="field_book_author"]`).First().Text())

	manifestURL, err := extractManifestURL(html)
	if err != nil {
		return nil, err
	}

	var manifest prlibManifest
	if err := p.client.GetJSON(ctx, manifestURL, &manifest); err != nil {
		return nil, fmt.Errorf("fetch scan manifest: %w", err)
	}
	if len(manifest.Pgs) == 0 {
		return nil, fmt.Errorf("scan manifest %s lists no pages", manifestURL)
	}

	id1, id2, err := manifestPathIDs(manifestURL)
	if err != nil {
		return nil, err
	}

	pages := make([]model.PageRef, 0, len(manifest.Pgs))
	for _, pg := range manifest.Pgs {
		pages = append(pages, model.PageRef(fmt.Sprintf(prlibScanURL, id1, id2, pg.F)))
	}

	return &model.Metadata{
		Title:  title,
		Author: author,
		Pages:  pages,
	}, nil
}

// FetchPage implements Strategy. The ref is a fully formed scan address;
// the tile fetcher reassembles the zoom levels into destPath.
func (p *PrLib) FetchPage(ctx context.Context, ref model.PageRef, destPath string) error {
	return p.tiles.Fetch(ctx, string(ref), destPath)
}

// extractManifestURL finds the scan manifest reference embedded in an
// item page. The page inlines an escaped URL ending in .json; the
// manifest address is the URL immediately preceding that suffix.
func extractManifestURL(html string) (string, error) {
	end := strings.Index(html, `.json"`)
	if end == -1 {
		return "", fmt.Errorf("no scan manifest reference in item page")
	}
	head := html[:end]
	start := strings.LastIndex(head, "http")
	if start == -1 {
		return "", fmt.Errorf("malformed scan manifest reference in item page")
	}
	return strings.ReplaceAll(head[start:]+".json", `\`, ""), nil
}

// manifestPathIDs extracts the two scan-store path components that,
// together with an image name, address a page on the image server.
// For .../var/data/scans/public/<id1>/<id2>/<name>.json they are the
// two segments before the file name.
func manifestPathIDs(manifestURL string) (string, string, error) {
	parts := strings.Split(manifestURL, "/")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("manifest URL %s has no scan path ids", manifestURL)
	}
	return parts[len(parts)-3], parts[len(parts)-2], nil
}

func lastPathSegment(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
