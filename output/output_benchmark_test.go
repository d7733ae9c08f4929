package output

import (
	"testing"

	"lardata/metadata"
)

func BenchmarkMarshalFileRecord(b *testing.B) {
	rec := envelope{
		RecordType:    "file",
		SchemaVersion: SchemaVersion,
		Payload: FileRecord{
			Path:     "/pnfs/uboone/scratch/reco_5_1.root",
			Name:     "reco_5_1.root",
			MimeType: "application/x-root",
			Size:     1 << 30,
			ModTime:  "2025-01-01T00:00:00Z",
			Checksums: map[string]string{
				"sha256": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
			},
			Metadata: metadata.Pairs{
				{Name: "runs", Value: "5"},
				{Name: "subRuns", Value: "1"},
				{Name: "parents", Value: "raw_5_1.root"},
				{Name: "eventCount", Value: "1000"},
			},
		},
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := jsonMarshal(rec); err != nil {
			b.Fatal(err)
		}
	}
}
