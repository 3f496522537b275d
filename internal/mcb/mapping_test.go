package mcb

import "testing"

func TestClassIDIsBoardConditioned(t *testing.T) {
	// The same grade label must resolve to a different class ID under
	// different boards.
	cbse := ClassID("Grade 5", "CBSE")
	icse := ClassID("Grade 5", "ICSE")
	caie := ClassID("Grade 5", "CAIE")
	if cbse == icse || cbse == caie || icse == caie {
		t.Errorf("grade 5 class IDs should differ per board: CBSE=%d ICSE=%d CAIE=%d", cbse, icse, caie)
	}
}

func TestClassIDDefaults(t *testing.T) {
	tests := []struct {
		name  string
		grade string
		board string
	}{
		{"unknown grade", "Grade 99", "CBSE"},
		{"empty grade", "", "ICSE"},
		{"grade missing from board ladder", "Nursery", "IB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassID(tt.grade, tt.board); got != defaultClassID {
				t.Errorf("ClassID(%q, %q) = %d, want default %d", tt.grade, tt.board, got, defaultClassID)
			}
		})
	}
}

func TestClassIDCaseInsensitive(t *testing.T) {
	if ClassID("grade 10", "cbse") != ClassID("GRADE 10", "CBSE") {
		t.Error("class lookup should be case-insensitive")
	}
}

func TestBoardIDDefaultsToCBSE(t *testing.T) {
	if got := BoardID("Montessori"); got != defaultBoardID {
		t.Errorf("unknown board = %d, want CBSE default %d", got, defaultBoardID)
	}
	if got := BoardID("icse"); got != boardIDs["ICSE"] {
		t.Errorf("BoardID(icse) = %d, want %d", got, boardIDs["ICSE"])
	}
}

func TestYearIDDefaultsToCurrentCycle(t *testing.T) {
	if got := YearID("2025-26"); got != 26 {
		t.Errorf("YearID(2025-26) = %d, want 26", got)
	}
	if got := YearID("1999-00"); got != defaultYearID {
		t.Errorf("unknown year = %d, want default %d", got, defaultYearID)
	}
	if got := YearID(""); got != defaultYearID {
		t.Errorf("empty year = %d, want default %d", got, defaultYearID)
	}
}

func TestSourceIDPrefersUTM(t *testing.T) {
	if got := SourceID("google", "chatbot"); got != sourceIDs["google"] {
		t.Errorf("UTM source should win: got %d, want %d", got, sourceIDs["google"])
	}
	if got := SourceID("", "chatbot"); got != sourceIDs["chatbot"] {
		t.Errorf("generic source should apply when UTM is empty: got %d, want %d", got, sourceIDs["chatbot"])
	}
	if got := SourceID("", ""); got != defaultSourceID {
		t.Errorf("empty sources should default to organic: got %d, want %d", got, defaultSourceID)
	}
	if got := SourceID("carrier-pigeon", ""); got != defaultSourceID {
		t.Errorf("unrecognized UTM with no generic source should default to organic: got %d", got)
	}
}

func TestSourceIDFallsThroughUnknownUTM(t *testing.T) {
	// An unrecognized UTM value does not block the generic source.
	if got := SourceID("carrier-pigeon", "referral"); got != sourceIDs["referral"] {
		t.Errorf("got %d, want referral %d", got, sourceIDs["referral"])
	}
}
