package record

import (
	"strings"
	"testing"
)

func TestCanonicalText_FieldOrder(t *testing.T) {
	r := Record{
		Date:         "25/08/2025",
		Dow:          "Thứ 2",
		Start:        "08:00",
		End:          "11:30",
		Location:     "Phòng họp A",
		Participants: "BGH",
		Title:        "Họp giao ban",
		Raw:          "08:00-11:30 Họp giao ban tại Phòng họp A",
	}

	want := strings.Join([]string{
		"date: 25/08/2025",
		"dow: Thứ 2",
		"start: 08:00",
		"end: 11:30",
		"location: Phòng họp A",
		"participants: BGH",
		"title: Họp giao ban",
		"raw: 08:00-11:30 Họp giao ban tại Phòng họp A",
	}, "\n")

	if got := r.CanonicalText(); got != want {
		t.Errorf("canonical text mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalText_SkipsEmptyFields(t *testing.T) {
	r := Record{Date: "01/09/2025", Start: "07:30", Title: "Chào cờ"}

	want := "date: 01/09/2025\nstart: 07:30\ntitle: Chào cờ"
	if got := r.CanonicalText(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestContentHash_Stable(t *testing.T) {
	// Digests pinned so any change to the canonical form shows up as a
	// test failure rather than silent store-wide duplicate churn.
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "full record",
			rec: Record{
				Date:         "25/08/2025",
				Dow:          "Thứ 2",
				Start:        "08:00",
				End:          "11:30",
				Location:     "Phòng họp A",
				Participants: "BGH",
				Title:        "Họp giao ban",
				Raw:          "08:00-11:30 Họp giao ban tại Phòng họp A",
			},
			want: "c3e37125e34ebb4ff811a121e2b324d3ae8037c6",
		},
		{
			name: "title only",
			rec:  Record{Title: "Chào cờ"},
			want: "b7f1883eaba5e9bfcdc1d91ff06ad57bbc2fe4a8",
		},
		{
			name: "date start title",
			rec:  Record{Date: "01/09/2025", Start: "07:30", Title: "Chào cờ"},
			want: "ea5fab56a934cac32fafc83ff2505db1e661330f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.ContentHash(); got != tt.want {
				t.Errorf("ContentHash() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestContentHash_IdenticalForEqualFields(t *testing.T) {
	a := Record{Date: "02/09/2025", Title: "Nghỉ lễ Quốc khánh"}
	b := Record{Date: "02/09/2025", Title: "Nghỉ lễ Quốc khánh"}

	if a.ContentHash() != b.ContentHash() {
		t.Error("equal records must hash identically")
	}

	c := Record{Date: "02/09/2025", Title: "Nghỉ lễ quốc khánh"}
	if a.ContentHash() == c.ContentHash() {
		t.Error("different titles must not collide")
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"empty", Record{}, false},
		{"only raw", Record{Raw: "ghi chú"}, false},
		{"only location", Record{Location: "Hội trường"}, false},
		{"date only", Record{Date: "25/08/2025"}, true},
		{"start only", Record{Start: "14:00"}, true},
		{"title only", Record{Title: "Họp khoa"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
