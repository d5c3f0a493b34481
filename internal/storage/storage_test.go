package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
)

func TestSegmentRoundTrip(t *testing.T) {
	mt := engine.NewMemTable()
	mt.AppendBatch([]engine.Row{
		{ID: 10, IngestedAt: 1000, AnomalyType: "system_critical", Severity: "high", Body: []byte(`{"anomaly_type":"system_critical"}`)},
		{ID: 11, IngestedAt: 2000, AnomalyType: "", Severity: "", Body: []byte(`{}`)},
		{ID: 12, IngestedAt: 1500, AnomalyType: "normal", Severity: "low", Body: []byte(`{"anomaly_type":"normal","log":{"content":"ok"}}`)},
	})

	w, err := NewColumnWriter()
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewColumnReader()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "seg.nano")
	if err := w.WriteSegment(path, mt); err != nil {
		t.Fatalf("write: %v", err)
	}

	footer, err := r.ReadFooter(path)
	if err != nil {
		t.Fatalf("footer: %v", err)
	}
	if footer.RowCount != 3 || footer.MinID != 10 || footer.MaxID != 12 || footer.MaxTs != 2000 {
		t.Fatalf("unexpected footer %+v", footer)
	}

	rows, err := r.ReadSegment(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ID != 10 || rows[0].Severity != "high" || string(rows[0].Body) != `{"anomaly_type":"system_critical"}` {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[1].AnomalyType != "" || string(rows[1].Body) != `{}` {
		t.Errorf("unexpected second row %+v", rows[1])
	}
	if rows[2].IngestedAt != 1500 || rows[2].AnomalyType != "normal" {
		t.Errorf("unexpected third row %+v", rows[2])
	}
}

func TestReadSegmentInvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nano")
	if err := os.WriteFile(path, []byte("NOTASEGMENTFILE-padding-padding-padding"), 0644); err != nil {
		t.Fatal(err)
	}
	r, _ := NewColumnReader()
	if _, err := r.ReadSegment(path); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestReadSegmentTruncated(t *testing.T) {
	mt := engine.NewMemTable()
	mt.AppendBatch([]engine.Row{{ID: 1, IngestedAt: 1, Body: []byte(`{}`)}})

	w, _ := NewColumnWriter()
	r, _ := NewColumnReader()
	path := filepath.Join(t.TempDir(), "seg.nano")
	if err := w.WriteSegment(path, mt); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// keep header and footer, drop the column blocks
	cut := append(append([]byte{}, data[:len(MagicHeader)]...), data[len(data)-footerSize:]...)
	if err := os.WriteFile(path, cut, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadSegment(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
