// Package classify labels places as chain brands or independent locals
// using a heuristic signal score.
package classify

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
)

// Names that mark a listing as a known multi-location brand regardless of
// the other signals. Matched as lowercase substrings of the place name.
var knownBrands = []string{
	"mcdonald", "starbucks", "subway", "burger king", "kfc", "pizza hut",
	"domino", "dunkin", "tim hortons", "wendy", "taco bell", "chick-fil-a",
	"papa john", "popeye", "five guys", "shake shack", "chipotle",
	"walmart", "target", "costco", "ikea", "h&m", "zara", "uniqlo",
	"nike", "adidas", "apple", "samsung", "microsoft", "google",
	"amazon", "carrefour", "lulu", "spinneys", "choithrams", "al maya",
	"hardee", "baskin robbins", "cold stone", "costa coffee", "caribou",
	"nando", "applebee", "chili", "olive garden", "outback",
	"marriott", "hilton", "hyatt", "sheraton", "radisson", "ibis",
	"holiday inn", "best western", "four seasons", "ritz carlton",
	"7-eleven", "circle k", "shell", "bp", "total", "adnoc", "enoc",
}

var chainPattern = regexp.MustCompile(`(?i)(franchise|chain|branch|outlet|store\s*#?\d|unit\s*\d|location\s*\d)`)

var brandDomainHints = []string{".com", ".co", ".global", ".international", ".inc"}

var localTLDHints = []string{".ae", ".uk", ".in", ".ph", ".pk"}

var brandTypes = map[string]bool{
	"shopping_mall":    true,
	"department_store": true,
	"supermarket":      true,
	"gas_station":      true,
}

var localTypes = map[string]bool{
	"cafe":      true,
	"bakery":    true,
	"hair_care": true,
	"laundry":   true,
	"florist":   true,
}

// maxSignalScore is the sum of the positive signal weights:
// 1.0 + 0.8 + 0.7 + 0.3 + 0.15 + 0.4 + 0.1.
const maxSignalScore = 3.45

// brandThreshold is the confidence at which a place is labeled a brand.
const brandThreshold = 0.30

// Classify scores a place against the brand signals and returns the label
// with a confidence in [0, 1] rounded to three decimals.
func Classify(p *model.Place) (string, float64) {
	score := 0.0
	nameLower := strings.ToLower(p.Name)

	for _, brand := range knownBrands {
		if strings.Contains(nameLower, brand) {
			score += 1.0
			break
		}
	}

	if p.UserRatingsTotal != nil {
		switch n := *p.UserRatingsTotal; {
		case n > 1000:
			score += 0.8
		case n > 500:
			score += 0.5
		case n > 100:
			score += 0.2
		}
	}

	if chainPattern.MatchString(p.Name + " " + p.FormattedAddress) {
		score += 0.7
	}

	if p.Website != "" {
		domain := strings.ToLower(p.Website)
		for _, hint := range brandDomainHints {
			if strings.Contains(domain, hint) {
				score += 0.3
				break
			}
		}
		for _, tld := range localTLDHints {
			if strings.Contains(domain, tld) {
				score -= 0.2
				break
			}
		}
	}

	if p.PriceLevel != nil {
		score += 0.15
	}

	for _, t := range p.Types {
		if brandTypes[t] {
			score += 0.4
			break
		}
	}
	for _, t := range p.Types {
		if localTypes[t] {
			score -= 0.3
			break
		}
	}

	words := len(strings.Fields(nameLower))
	if words <= 3 {
		score += 0.1
	} else if words >= 6 {
		score -= 0.1
	}

	confidence := math.Max(0, math.Min(1, score/maxSignalScore))
	confidence = math.Round(confidence*1000) / 1000

	label := model.ClassLocal
	if confidence >= brandThreshold {
		label = model.ClassBrand
	}
	return label, confidence
}

// Store is the persistence surface the classifier needs.
type Store interface {
	ListUnclassified(ctx context.Context) ([]model.Place, error)
	UpdateClassification(ctx context.Context, placeID int64, label string, confidence float64) error
}

type Classifier struct {
	store Store
}

func New(store Store) *Classifier {
	return &Classifier{store: store}
}

// ClassifyPlaces labels each place and persists the result, mutating the
// given slice so callers see the fresh labels.
func (c *Classifier) ClassifyPlaces(ctx context.Context, places []model.Place) error {
	for i := range places {
		p := &places[i]
		label, confidence := Classify(p)
		p.Classification = label
		p.Confidence = &confidence

		if err := c.store.UpdateClassification(ctx, p.ID, label, confidence); err != nil {
			return eris.Wrapf(err, "classify: persist label for place %d", p.ID)
		}
		zap.L().Debug("classified place",
			zap.String("name", p.Name),
			zap.String("label", label),
			zap.Float64("confidence", confidence))
	}
	return nil
}

// ClassifyAllUnclassified labels every place without a classification and
// returns how many it processed.
func (c *Classifier) ClassifyAllUnclassified(ctx context.Context) (int, error) {
	places, err := c.store.ListUnclassified(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "classify: list unclassified")
	}
	if len(places) == 0 {
		return 0, nil
	}
	if err := c.ClassifyPlaces(ctx, places); err != nil {
		return 0, err
	}
	return len(places), nil
}
