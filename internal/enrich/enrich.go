// Package enrich crawls place websites for contact emails and homepage
// metadata. Crawling is polite: robots.txt is honored, fetches are
// sequential, and transient network failures get one retry.
package enrich

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/internal/resilience"
)

const userAgent = "PlacescopeBot/1.0 (+https://placescope.io/bot)"

// robotsBlockedError is recorded when robots.txt denies the homepage.
const robotsBlockedError = "Blocked by robots.txt"

const maxErrorLen = 500

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// Placeholder and tooling domains that show up in page source but are
// never real contacts.
var excludedEmailDomains = []string{
	"example.com", "domain.com", "email.com", "test.com",
	"yoursite.com", "website.com", "sentry.io", "wixpress.com",
}

// Asset references matched by the email regex, e.g. icon@2x.png.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

var contactLinkPattern = regexp.MustCompile(`(?i)(contact|kontakt|get[_\-\s]?in[_\-\s]?touch|reach[_\-\s]?us|about[_\-\s]?us)`)

// Store is the persistence surface enrichment needs.
type Store interface {
	UpsertEnrichment(ctx context.Context, e *model.Enrichment) error
	InsertEmailIfAbsent(ctx context.Context, placeID int64, email, source string) error
	SetEnrichedAt(ctx context.Context, placeID int64, t time.Time) error
}

type Option func(*Enricher)

func WithHTTPClient(hc *http.Client) Option {
	return func(e *Enricher) { e.http = hc }
}

// WithRespectRobots toggles the robots.txt check. Disabling it skips the
// check entirely and records no robots verdict.
func WithRespectRobots(respect bool) Option {
	return func(e *Enricher) { e.respectRobots = respect }
}

type Enricher struct {
	store         Store
	http          *http.Client
	respectRobots bool
}

func New(store Store, opts ...Option) *Enricher {
	e := &Enricher{
		store:         store,
		http:          &http.Client{Timeout: 10 * time.Second},
		respectRobots: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnrichPlace crawls the place's website and persists whatever it finds.
// An enrichment row is written on every attempt, including failures, and
// enriched_at is stamped so the place is not retried indefinitely.
func (e *Enricher) EnrichPlace(ctx context.Context, p *model.Place) error {
	if p.Website == "" {
		return nil
	}

	zap.L().Info("enriching place",
		zap.String("name", p.Name),
		zap.String("website", p.Website))

	enrichment := &model.Enrichment{PlaceID: p.ID}
	emails := map[string]string{} // email -> source

	e.crawl(ctx, p.Website, enrichment, emails)

	if err := e.store.UpsertEnrichment(ctx, enrichment); err != nil {
		return eris.Wrapf(err, "enrich: save enrichment for place %d", p.ID)
	}
	for _, email := range sortedKeys(emails) {
		if err := e.store.InsertEmailIfAbsent(ctx, p.ID, email, emails[email]); err != nil {
			return eris.Wrapf(err, "enrich: save email for place %d", p.ID)
		}
	}

	now := time.Now().UTC()
	if err := e.store.SetEnrichedAt(ctx, p.ID, now); err != nil {
		return eris.Wrapf(err, "enrich: stamp enriched_at for place %d", p.ID)
	}
	p.EnrichedAt = &now
	p.Enrichment = enrichment
	return nil
}

// crawl fills the enrichment record and email map from the website.
// Crawl failures land in EnrichmentError rather than propagating; only
// persistence errors surface to the caller.
func (e *Enricher) crawl(ctx context.Context, website string, enrichment *model.Enrichment, emails map[string]string) {
	allowed := true
	if e.respectRobots {
		allowed = e.robotsAllowed(ctx, website)
	}
	enrichment.RobotsAllowed = &allowed
	if !allowed {
		enrichment.EnrichmentError = robotsBlockedError
		return
	}

	status, html, err := e.fetchPage(ctx, website)
	if err != nil {
		enrichment.EnrichmentError = truncate(err.Error(), maxErrorLen)
		zap.L().Error("homepage fetch failed",
			zap.String("website", website), zap.Error(err))
		return
	}
	enrichment.HomepageStatus = &status

	if status != http.StatusOK || html == "" {
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		enrichment.EnrichmentError = truncate(err.Error(), maxErrorLen)
		return
	}

	enrichment.HomepageTitle = strings.TrimSpace(doc.Find("title").First().Text())

	for _, email := range extractEmails(html) {
		emails[email] = model.EmailSourceHomepage
	}

	contactURL := findContactPage(doc, website)
	if contactURL == "" {
		return
	}
	enrichment.ContactPageURL = contactURL

	cpStatus, cpHTML, err := e.fetchPage(ctx, contactURL)
	if err != nil {
		zap.L().Warn("contact page fetch failed",
			zap.String("url", contactURL), zap.Error(err))
		return
	}
	if cpStatus == http.StatusOK && cpHTML != "" {
		for _, email := range extractEmails(cpHTML) {
			if _, seen := emails[email]; !seen {
				emails[email] = model.EmailSourceContactPage
			}
		}
	}
}

// EnrichBatch enriches places one at a time. Per-place failures are
// logged and skipped so one bad website cannot sink the batch.
func (e *Enricher) EnrichBatch(ctx context.Context, places []model.Place) []model.Place {
	for i := range places {
		if err := e.EnrichPlace(ctx, &places[i]); err != nil {
			zap.L().Error("enrichment failed",
				zap.String("name", places[i].Name), zap.Error(err))
		}
	}
	return places
}

// robotsAllowed checks robots.txt for the website's host. Any failure to
// fetch or parse robots.txt counts as permission.
func (e *Enricher) robotsAllowed(ctx context.Context, website string) bool {
	parsed, err := url.Parse(website)
	if err != nil || parsed.Host == "" {
		return true
	}

	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.http.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return true
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true
	}
	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return true
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return robots.FindGroup(userAgent).Test(path)
}

// fetchPage GETs a URL, retrying once on transient network failures.
// Non-2xx statuses are returned to the caller, not treated as errors.
func (e *Enricher) fetchPage(ctx context.Context, pageURL string) (int, string, error) {
	const attempts = 2

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return 0, "", ctx.Err()
			case <-time.After(time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return 0, "", eris.Wrapf(err, "enrich: build request for %s", pageURL)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			if resilience.IsRetryable(err) && attempt < attempts {
				zap.L().Debug("retrying page fetch",
					zap.String("url", pageURL), zap.Error(err))
				continue
			}
			return 0, "", eris.Wrapf(err, "enrich: fetch %s", pageURL)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return resp.StatusCode, "", eris.Wrapf(err, "enrich: read %s", pageURL)
		}
		return resp.StatusCode, string(body), nil
	}
	return 0, "", eris.Wrapf(lastErr, "enrich: fetch %s", pageURL)
}

// extractEmails pulls email addresses out of raw HTML, lowercased and
// deduplicated, dropping asset references and placeholder domains.
func extractEmails(html string) []string {
	seen := map[string]bool{}
	for _, match := range emailPattern.FindAllString(html, -1) {
		email := strings.ToLower(match)

		if hasAnySuffix(email, imageExtensions) {
			continue
		}
		at := strings.LastIndex(email, "@")
		if at < 0 {
			continue
		}
		domain := email[at+1:]
		if containsAny(domain, excludedEmailDomains) {
			continue
		}
		seen[email] = true
	}

	out := make([]string, 0, len(seen))
	for email := range seen {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// findContactPage returns the first same-host anchor whose text or href
// looks like a contact or about page.
func findContactPage(doc *goquery.Document, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())
		if !contactLinkPattern.MatchString(text) && !contactLinkPattern.MatchString(strings.ToLower(href)) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host != base.Host {
			return true
		}
		found = resolved.String()
		return false
	})
	return found
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
