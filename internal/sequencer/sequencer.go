// Package sequencer turns a campaign's content and one job into the ordered
// parts a recipient receives.
package sequencer

import (
	"sort"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ActiveVariants returns active text variants ordered by Order.
func ActiveVariants(c *model.Campaign) []model.MessageVariant {
	out := make([]model.MessageVariant, 0, len(c.Variants))
	for _, v := range c.Variants {
		if v.Active {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ActiveMedia returns active media ordered by Order.
func ActiveMedia(c *model.Campaign) []model.MediaItem {
	out := make([]model.MediaItem, 0, len(c.Media))
	for _, m := range c.Media {
		if m.Active {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// CheckContent fails with NoContentError when nothing can be sent.
func CheckContent(c *model.Campaign) error {
	if len(ActiveVariants(c)) == 0 && len(ActiveMedia(c)) == 0 {
		return &appErrors.NoContentError{CampaignID: c.ID}
	}
	return nil
}

// AssignVariant picks the variant order for the recipient at position idx of
// the start-time enumeration. Assignment rotates through active variants, or
// through active media for media-only campaigns, so recipients are spread evenly.
func AssignVariant(c *model.Campaign, idx int) (int, error) {
	if idx < 0 {
		idx = 0
	}
	if vs := ActiveVariants(c); len(vs) > 0 {
		return vs[idx%len(vs)].Order, nil
	}
	if ms := ActiveMedia(c); len(ms) > 0 {
		return ms[idx%len(ms)].Order, nil
	}
	return 0, &appErrors.NoContentError{CampaignID: c.ID}
}

// Build assembles the content unit for job according to the campaign's send order.
func Build(c *model.Campaign, job *model.DispatchJob) (model.ContentUnit, error) {
	variants := ActiveVariants(c)
	media := ActiveMedia(c)
	if len(variants) == 0 && len(media) == 0 {
		return model.ContentUnit{}, &appErrors.NoContentError{CampaignID: c.ID}
	}

	order := job.VariantOrder
	var text string
	hasText := false
	if len(variants) > 0 {
		v, ok := variantByOrder(variants, order)
		if !ok {
			// The assigned variant was deactivated after the job was created.
			v = variants[0]
			order = v.Order
		}
		text = Render(v.Body, job.Recipient)
		hasText = true
	}

	paired := mediaByOrder(media, order)
	if !hasText && len(paired) == 0 {
		paired = media[:1]
		order = media[0].Order
	}
	unit := model.ContentUnit{VariantOrder: order}

	switch c.SendOrder {
	case model.TextFirst, "":
		if hasText {
			unit.Parts = append(unit.Parts, textPart(text))
		}
		unit.Parts = append(unit.Parts, mediaParts(paired)...)
	case model.MediaFirst:
		unit.Parts = append(unit.Parts, mediaParts(paired)...)
		if hasText {
			unit.Parts = append(unit.Parts, textPart(text))
		}
	case model.Together:
		if len(paired) == 0 {
			unit.Parts = append(unit.Parts, textPart(text))
			break
		}
		first := paired[0]
		unit.Parts = append(unit.Parts, model.ContentPart{Kind: model.PartCombined, Text: text, Media: &first})
		unit.Parts = append(unit.Parts, mediaParts(paired[1:])...)
	default:
		return model.ContentUnit{}, appErrors.NewConfigError("send_order", "unknown value %q", c.SendOrder)
	}

	if len(unit.Parts) == 0 {
		return model.ContentUnit{}, &appErrors.NoContentError{CampaignID: c.ID}
	}
	return unit, nil
}

func variantByOrder(vs []model.MessageVariant, order int) (model.MessageVariant, bool) {
	for _, v := range vs {
		if v.Order == order {
			return v, true
		}
	}
	return model.MessageVariant{}, false
}

func mediaByOrder(ms []model.MediaItem, order int) []model.MediaItem {
	var out []model.MediaItem
	for _, m := range ms {
		if m.Order == order {
			out = append(out, m)
		}
	}
	return out
}

func textPart(s string) model.ContentPart {
	return model.ContentPart{Kind: model.PartText, Text: s}
}

func mediaParts(ms []model.MediaItem) []model.ContentPart {
	parts := make([]model.ContentPart, 0, len(ms))
	for i := range ms {
		m := ms[i]
		parts = append(parts, model.ContentPart{Kind: model.PartMedia, Text: m.Caption, Media: &m})
	}
	return parts
}
