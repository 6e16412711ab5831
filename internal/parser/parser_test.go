package parser

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const docxHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const docxFooter = `</w:body></w:document>`

func wp(text string) string {
	return "<w:p><w:r><w:t>" + text + "</w:t></w:r></w:p>"
}

func wc(paras ...string) string {
	return "<w:tc>" + strings.Join(paras, "") + "</w:tc>"
}

func wr(cells ...string) string {
	return "<w:tr>" + strings.Join(cells, "") + "</w:tr>"
}

func writeDocx(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = io.WriteString(w, docxHeader+body+docxFooter)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestParseFile_DocxTableScenario(t *testing.T) {
	body := wp("LỊCH CÔNG TÁC TUẦN 34 NĂM 2025") +
		"<w:tbl>" +
		wr(
			wc(wp("Thứ 2"), wp("18/8")),
			wc(
				wp("- 8h00-11h30 Họp giao ban tại Hội trường B1"),
				wp("TP: BGH; Trưởng các đơn vị"),
				wp("14:00 Làm việc với đoàn kiểm tra"),
			),
		) +
		wr(
			wc(wp("CN 24/8")),
			wc(wp("Chào cờ đầu tuần")),
		) +
		"</w:tbl>"
	path := writeDocx(t, body)

	events, err := ParseFile(path, 0) // year inferred from the heading
	require.NoError(t, err)
	require.Len(t, events, 3)

	e := events[0]
	assert.Equal(t, "18/08/2025", e.Date)
	assert.Equal(t, "Thứ 2", e.Dow)
	assert.Equal(t, "08:00", e.Start)
	assert.Equal(t, "11:30", e.End)
	assert.Equal(t, "Hội trường B1", e.Location)
	assert.Equal(t, "BGH; Trưởng các đơn vị", e.Participants)
	assert.Equal(t, "Họp giao ban Hội trường B1", e.Title)
	assert.Equal(t, "- 8h00-11h30 Họp giao ban tại Hội trường B1", e.Raw)

	e = events[1]
	assert.Equal(t, "18/08/2025", e.Date)
	assert.Equal(t, "14:00", e.Start)
	assert.Empty(t, e.End)
	assert.Equal(t, "Làm việc với đoàn kiểm tra", e.Title)
	assert.Empty(t, e.Participants)

	e = events[2]
	assert.Equal(t, "24/08/2025", e.Date)
	assert.Equal(t, "Chủ nhật", e.Dow)
	assert.Equal(t, "Chào cờ đầu tuần", e.Title)
}

func TestParseFile_DocxParagraphFallback(t *testing.T) {
	body := wp("Thứ 6 22/8/25") +
		wp("Từ 8h đến 11h30 Hội nghị viên chức") +
		wp("Mời dự: Toàn thể giảng viên")
	path := writeDocx(t, body)

	events, err := ParseFile(path, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "22/08/2025", e.Date)
	assert.Equal(t, "Thứ 6", e.Dow)
	assert.Equal(t, "08:00", e.Start)
	assert.Equal(t, "11:30", e.End)
	assert.Equal(t, "Hội nghị viên chức", e.Title)
	assert.Equal(t, "Toàn thể giảng viên", e.Participants)
}

func TestParseFile_HTMLTable(t *testing.T) {
	page := `<html><body>
	<h1>LỊCH CÔNG TÁC TUẦN 34</h1>
	<table>
	  <tr>
	    <td>Thứ 3<br/>19/8</td>
	    <td><p>9h Tiếp đoàn công tác tại P.201</p><p>TP: Phòng Đào tạo</p></td>
	  </tr>
	</table>
	</body></html>`
	path := filepath.Join(t.TempDir(), "schedule.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0644))

	events, err := ParseFile(path, 2025)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "19/08/2025", e.Date)
	assert.Equal(t, "Thứ 3", e.Dow)
	assert.Equal(t, "09:00", e.Start)
	assert.Equal(t, "P.201", e.Location)
	assert.Equal(t, "Phòng Đào tạo", e.Participants)
	assert.Equal(t, "Tiếp đoàn công tác P.201", e.Title)
}

func TestParseFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := ParseFile(path, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestReadDocx_Structure(t *testing.T) {
	body := wp("Tiêu đề") +
		"<w:tbl>" + wr(wc(wp("trái")), wc(wp("phải 1"), wp("phải 2"))) + "</w:tbl>" +
		wp("Chân trang")
	doc, err := ReadDocx(writeDocx(t, body))
	require.NoError(t, err)

	assert.Equal(t, []string{"Tiêu đề", "Chân trang"}, doc.Paragraphs)
	require.Len(t, doc.Tables, 1)
	require.Len(t, doc.Tables[0].Rows, 1)
	assert.Equal(t, []string{"trái", "phải 1\nphải 2"}, doc.Tables[0].Rows[0])
}

func TestReadDocx_Errors(t *testing.T) {
	dir := t.TempDir()

	notZip := filepath.Join(dir, "broken.docx")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0644))
	_, err := ReadDocx(notZip)
	assert.Error(t, err)

	noXML := filepath.Join(dir, "empty.docx")
	f, err := os.Create(noXML)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("word/other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	_, err = ReadDocx(noXML)
	assert.ErrorContains(t, err, "word/document.xml")
}

func TestReadHTML_CellLines(t *testing.T) {
	page := `<table><tr><td>Thứ 2<br>18/8</td><td>dòng một<br>dòng hai</td></tr></table>`
	doc, err := ReadHTML(strings.NewReader(page))
	require.NoError(t, err)

	require.Len(t, doc.Tables, 1)
	require.Len(t, doc.Tables[0].Rows, 1)
	assert.Equal(t, []string{"Thứ 2\n18/8", "dòng một\ndòng hai"}, doc.Tables[0].Rows[0])
}

func TestScanDayAndDate(t *testing.T) {
	tests := []struct {
		line     string
		ok       bool
		date     string
		dow      string
	}{
		{"Thứ 2 18/8", true, "18/08/2025", "Thứ 2"},
		{"CN 24/8", true, "24/08/2025", "Chủ nhật"},
		{"thu 4, ngày 20/8", true, "20/08/2025", "Thứ 4"},
		{"Thứ 5 19/6/25", true, "19/06/2025", "Thứ 5"},
		{"Thứ 7 20/09/2025", true, "20/09/2025", "Thứ 7"},
		{"Thứ 2 30/2", false, "", ""},
		{"Họp giao ban 15/8", false, "", ""},
		{"Thứ 2", false, "", ""},
	}
	for _, tt := range tests {
		m := &machine{year: 2025, lastIdx: -1}
		ok := m.scanDayAndDate(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.date, m.curDate, tt.line)
		assert.Equal(t, tt.dow, m.curDow, tt.line)
	}
}

func TestNormTime(t *testing.T) {
	tests := []struct {
		in         string
		start, end string
	}{
		{"08:00-11:30", "08:00", "11:30"},
		{"8h30 đến 11h", "08:30", "11:00"},
		{"Từ 8h đến 11h30", "08:00", "11:30"},
		{"8h-11h30", "08:00", "11:30"},
		{"Họp lúc 14:05", "14:05", ""},
		{"9h sáng", "09:00", ""},
		{"không có giờ", "", ""},
	}
	for _, tt := range tests {
		start, end := normTime(tt.in)
		assert.Equal(t, tt.start, start, tt.in)
		assert.Equal(t, tt.end, end, tt.in)
	}
}

func TestExtractLocation(t *testing.T) {
	tests := []struct {
		in  string
		loc string
	}{
		{"Họp tại Hội trường B1", "Hội trường B1"},
		{"Họp tại P.201 Thành phần: BGH", "P.201"},
		{"Địa điểm: Hội trường A", "Hội trường A"},
		{"Họp tại P.201: xét duyệt đề tài", "P.201"},
		{"Không có chỗ nào", ""},
	}
	for _, tt := range tests {
		loc, _, _ := extractLocation(tt.in)
		assert.Equal(t, tt.loc, loc, tt.in)
	}
}

func TestParticipants(t *testing.T) {
	m := &machine{year: 2025, lastIdx: -1}

	// Nothing to attach to yet.
	m.feed("TP: BGH")
	assert.Empty(t, m.events)

	m.feed("Họp giao ban")
	m.feed("TP: BGH.")
	m.feed("Thành phần - Trưởng các khoa")
	require.Len(t, m.events, 1)
	assert.Equal(t, "BGH; Trưởng các khoa", m.events[0].Participants)
}

func TestDowBackfilledFromDate(t *testing.T) {
	m := &machine{year: 2025, lastIdx: -1}
	m.curDate = "20/08/2025" // a Wednesday
	m.emit("Nghiệm thu đề tài")

	events := m.finish()
	require.Len(t, events, 1)
	assert.Equal(t, "Thứ 4", events[0].Dow)
}

func TestInferYear(t *testing.T) {
	doc := &Document{Paragraphs: []string{"Lịch công tác tuần 34 năm 2025"}}
	assert.Equal(t, 2025, InferYear(doc))

	doc = &Document{Tables: []Table{{Rows: [][]string{{"Thứ 2", "ngày 18/8/2025"}}}}}
	assert.Equal(t, 2025, InferYear(doc))

	doc = &Document{Paragraphs: []string{"không có năm nào"}}
	assert.Equal(t, 0, InferYear(doc))
}

func TestSmartCap(t *testing.T) {
	assert.Equal(t, "Đại hội chi bộ", smartCap("đại hội chi bộ"))
	assert.Equal(t, "Họp", smartCap("  họp  "))
	assert.Equal(t, "", smartCap("   "))
}
