package domain

// Site document section names. The document is a closed set of named
// sections; anything outside this set is ignored by the merge engine.
const (
	SectionHero         = "hero"
	SectionAbout        = "about"
	SectionServices     = "services"
	SectionTestimonials = "testimonials"
	SectionFAQ          = "faq"
	SectionBlog         = "blog"
	SectionSEO          = "seo"
	SectionImages       = "images"
)

// MergeRule decides how an incoming section value is folded into the
// document.
type MergeRule int

const (
	// MergeReplace overwrites the destination when the incoming value is
	// present and non-empty.
	MergeReplace MergeRule = iota
	// MergeReplaceIfNonEmpty overwrites the destination list only when the
	// incoming list has at least one element. Content arrives incrementally
	// across requests; an absent or empty list must never erase earlier work.
	MergeReplaceIfNonEmpty
	// MergeUnionByRole merges incoming image entries into the destination
	// map by role, never dropping roles that only exist in the destination.
	MergeUnionByRole
)

// SectionRules is the per-section merge strategy table.
var SectionRules = map[string]MergeRule{
	SectionHero:         MergeReplace,
	SectionAbout:        MergeReplace,
	SectionSEO:          MergeReplace,
	SectionServices:     MergeReplaceIfNonEmpty,
	SectionTestimonials: MergeReplaceIfNonEmpty,
	SectionFAQ:          MergeReplaceIfNonEmpty,
	SectionBlog:         MergeReplaceIfNonEmpty,
	SectionImages:       MergeUnionByRole,
}

// SectionForType maps a request type onto the single document section its
// payload targets. Types without an entry (content, images, custom, unknown)
// are handled by the engine's multi-section paths.
var SectionForType = map[RequestType]string{
	RequestTypeHero:         SectionHero,
	RequestTypeAbout:        SectionAbout,
	RequestTypeSEO:          SectionSEO,
	RequestTypeServices:     SectionServices,
	RequestTypeTestimonials: SectionTestimonials,
	RequestTypeFAQ:          SectionFAQ,
	RequestTypeBlog:         SectionBlog,
}
