package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// ReadDocx extracts paragraphs and tables from word/document.xml.
// Only body-level paragraphs land in Document.Paragraphs; paragraphs
// inside table cells become the cell text, joined by newlines, so
// each schedule line stays a line. Tables nested inside cells are
// skipped.
func ReadDocx(path string) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open docx %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("parser: read docx %s: %w", filepath.Base(path), err)
		}
		defer rc.Close()
		return readDocumentXML(rc)
	}
	return nil, fmt.Errorf("parser: %s has no word/document.xml", filepath.Base(path))
}

func readDocumentXML(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}

	var (
		para      strings.Builder
		inPara    bool
		inText    bool
		tblDepth  int
		cellParas []string
		row       []string
		table     Table
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parser: decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					table = Table{}
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cellParas = nil
				}
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inText = true
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			}

		case xml.CharData:
			if inPara && inText {
				para.Write(t)
			}

		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if !inPara {
					break
				}
				inPara = false
				switch tblDepth {
				case 0:
					doc.Paragraphs = append(doc.Paragraphs, para.String())
				case 1:
					cellParas = append(cellParas, para.String())
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cellParas, "\n"))
				}
			case "tr":
				if tblDepth == 1 && row != nil {
					table.Rows = append(table.Rows, row)
				}
			case "tbl":
				if tblDepth == 1 && len(table.Rows) > 0 {
					doc.Tables = append(doc.Tables, table)
				}
				tblDepth--
			}
		}
	}
	return doc, nil
}
