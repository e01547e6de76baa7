package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/pagemark"
)

type fakeSource struct {
	pages map[string]pagemark.PageStatus
	err   error
}

func (f *fakeSource) Pages(context.Context) []pagemark.PageStatus {
	var out []pagemark.PageStatus
	for _, p := range f.pages {
		out = append(out, p)
	}
	return out
}

func (f *fakeSource) Page(_ context.Context, id string) (pagemark.PageStatus, error) {
	if f.err != nil {
		return pagemark.PageStatus{ConfigID: id}, f.err
	}
	p, ok := f.pages[id]
	if !ok {
		return pagemark.PageStatus{ConfigID: id}, pagemark.ErrUnknownPage
	}
	return p, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := New(&fakeSource{}, nil).Router()
	rec := get(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
}

func TestPages(t *testing.T) {
	src := &fakeSource{pages: map[string]pagemark.PageStatus{
		"page-1": {
			ConfigID: "page-1",
			URL:      "https://host.test/EG0008W",
			Attached: true,
			Status:   &pagemark.Status{ID: "pg_1", Activated: true, Markers: 3},
		},
	}}
	h := New(src, nil).Router()

	rec := get(t, h, "/pages")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var list []pagemark.PageStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status == nil || list[0].Status.Markers != 3 {
		t.Errorf("pages: got %+v", list)
	}

	rec = get(t, h, "/pages/page-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("page status: got %d, want 200", rec.Code)
	}
	var one pagemark.PageStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatal(err)
	}
	if !one.Attached || !one.Status.Activated {
		t.Errorf("page: got %+v", one)
	}
}

func TestPage_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		want int
	}{
		{"unknown", &fakeSource{}, http.StatusNotFound},
		{"unavailable", &fakeSource{err: errors.New("loop stopped")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, New(tt.src, nil).Router(), "/pages/nope")
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
