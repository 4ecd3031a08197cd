package domain

import "testing"

func TestStatusTerminal(t *testing.T) {
	terminal := map[RequestStatus]bool{
		StatusPending:    false,
		StatusAssigned:   false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusRejected:   true,
		StatusCancelled:  true,
		StatusFailed:     true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
		if !status.Valid() {
			t.Errorf("%s.Valid() = false", status)
		}
	}
	if RequestStatus("LIMBO").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestStorageScopePrefersSession(t *testing.T) {
	req := &Request{ID: "req-1", SessionID: "sess-1"}
	if got := req.StorageScope(); got != "sessions/sess-1" {
		t.Fatalf("StorageScope() = %q", got)
	}
	req.SessionID = ""
	if got := req.StorageScope(); got != "requests/req-1" {
		t.Fatalf("StorageScope() = %q", got)
	}
}

func TestSectionForTypeCoversContentTypes(t *testing.T) {
	cases := map[RequestType]string{
		RequestTypeHero:         SectionHero,
		RequestTypeAbout:        SectionAbout,
		RequestTypeServices:     SectionServices,
		RequestTypeTestimonials: SectionTestimonials,
		RequestTypeFAQ:          SectionFAQ,
		RequestTypeSEO:          SectionSEO,
		RequestTypeBlog:         SectionBlog,
	}
	for reqType, section := range cases {
		if got := SectionForType[reqType]; got != section {
			t.Errorf("SectionForType[%s] = %q, want %q", reqType, got, section)
		}
		if _, ok := SectionRules[section]; !ok {
			t.Errorf("no merge rule registered for section %q", section)
		}
	}
}
