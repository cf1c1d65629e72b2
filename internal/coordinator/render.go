package coordinator

import (
	"fmt"
	"strings"

	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/models"
)

const (
	timeoutNotice  = "Sorry, that took longer than expected and I could not finish this turn. Please try again."
	answerFallback = "I wasn't able to put an answer together just now. Please try asking again."

	maxRenderedPois = 6
	storiesPerSide  = 3
)

// renderMessage turns the assembled response into the single markdown reply
// for the turn. What kind of turn it was is read off the expectation
// counters, which survive until the next BeginTurn.
func (c *Coordinator) renderMessage(st *session.State, resp models.FinalResponse) string {
	switch {
	case st.ExpectedQa > 0:
		return renderAnswer(resp)
	case st.ExpectedSearch > 0:
		return renderSearch(resp)
	default:
		// The deadline fired before scoping classified the turn.
		return timeoutNotice
	}
}

func renderAnswer(resp models.FinalResponse) string {
	if strings.TrimSpace(resp.Answer) == "" {
		return answerFallback
	}
	return resp.Answer
}

func renderSearch(resp models.FinalResponse) string {
	var b strings.Builder

	if s := strings.TrimSpace(resp.SearchSummary); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if len(resp.Listings) == 0 {
		if resp.Partial {
			b.WriteString("I could not gather any listings before time ran out. Please try again.")
		}
		if b.Len() == 0 {
			b.WriteString("No properties found matching your search. Try adjusting your search terms.")
		}
		return strings.TrimSpace(b.String())
	}

	fmt.Fprintf(&b, "Found %d properties with complete details.\n", resp.TotalFound)

	for _, l := range resp.Listings {
		b.WriteString("\n")
		title := strings.TrimSpace(l.Listing.Title)
		if title == "" {
			title = "Listing"
		}
		fmt.Fprintf(&b, "**%d. %s**\n", l.Index+1, title)

		addr := strings.TrimSpace(l.Listing.Address)
		if l.Geocode != nil {
			if resolved := strings.TrimSpace(l.Geocode.ResolvedAddress); resolved != "" {
				addr = resolved
			}
			fmt.Fprintf(&b, "%s (%.5f, %.5f)\n", addr, l.Geocode.Latitude, l.Geocode.Longitude)
		} else if addr != "" {
			b.WriteString(addr + "\n")
		}

		var details []string
		if l.Listing.Price > 0 {
			details = append(details, fmt.Sprintf("$%.0f", l.Listing.Price))
		}
		if l.Listing.Bedrooms > 0 {
			details = append(details, fmt.Sprintf("%d bd", l.Listing.Bedrooms))
		}
		if l.Listing.Bathrooms > 0 {
			details = append(details, fmt.Sprintf("%d ba", l.Listing.Bathrooms))
		}
		if len(details) > 0 {
			b.WriteString(strings.Join(details, " / ") + "\n")
		}
		if l.ImageURL != "" {
			fmt.Fprintf(&b, "![Photo](%s)\n", l.ImageURL)
		}
		if l.Listing.URL != "" {
			fmt.Fprintf(&b, "[View listing](%s)\n", l.Listing.URL)
		}
		if len(l.Pois) > 0 {
			b.WriteString("Nearby: " + renderPois(l.Pois) + "\n")
		}
	}

	if resp.Community != nil {
		b.WriteString("\n")
		b.WriteString(renderCommunity(resp.Community))
	}

	if resp.Partial {
		b.WriteString("\nSome details were still loading when this reply was sent; ask again for a complete picture.\n")
	}
	return strings.TrimSpace(b.String())
}

func renderPois(points []models.PoiPoint) string {
	parts := make([]string, 0, maxRenderedPois+1)
	for i, p := range points {
		if i == maxRenderedPois {
			parts = append(parts, fmt.Sprintf("and %d more", len(points)-maxRenderedPois))
			break
		}
		label := strings.TrimSpace(p.Name)
		if label == "" {
			label = p.Category
		}
		if p.DistanceMeters > 0 {
			label = fmt.Sprintf("%s (%.0f m)", label, p.DistanceMeters)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ", ")
}

func renderCommunity(r *models.CommunityReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Community: %s**\n", r.LocationName)
	fmt.Fprintf(&b, "Overall %.1f/10 (safety %.1f, schools %.1f)\n", r.OverallScore, r.SafetyScore, r.SchoolScore)

	var housing []string
	if r.HousingPricePerSqft > 0 {
		housing = append(housing, fmt.Sprintf("$%.0f per sqft", r.HousingPricePerSqft))
	}
	if r.AvgHouseSizeSqft > 0 {
		housing = append(housing, fmt.Sprintf("%.0f sqft average home", r.AvgHouseSizeSqft))
	}
	if len(housing) > 0 {
		b.WriteString("Housing: " + strings.Join(housing, ", ") + "\n")
	}

	writeStories(&b, "Highlights", r.PositiveStories)
	writeStories(&b, "Watch out for", r.NegativeStories)
	return b.String()
}

func writeStories(b *strings.Builder, label string, stories []models.CommunityStory) {
	if len(stories) == 0 {
		return
	}
	b.WriteString(label + ":\n")
	for i, story := range stories {
		if i == storiesPerSide {
			break
		}
		if story.URL != "" {
			fmt.Fprintf(b, "- [%s](%s)\n", story.Title, story.URL)
		} else {
			fmt.Fprintf(b, "- %s\n", story.Title)
		}
	}
}
