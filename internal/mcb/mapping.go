// Package mcb synchronizes enquiries to the MyClassBoard school CRM.
//
// MCB's enquiry API takes numeric IDs for grade, board, academic year and
// lead source. The lookup tables here are closed: anything outside them maps
// to a documented default rather than failing the sync, because a lead with a
// slightly-off grade label is worth more in the CRM than no lead at all.
package mcb

import "strings"

// Defaults applied when a source value is not in its lookup table.
const (
	// defaultClassID is Grade 6, the middle of the K-12 range.
	defaultClassID = 1106
	// defaultBoardID is CBSE, the most common board.
	defaultBoardID = 1
	// defaultYearID is the current admission cycle.
	defaultYearID = 27
	// defaultSourceID is the "organic" lead source.
	defaultSourceID = 1
)

// boardIDs maps normalized board names to MCB board IDs.
var boardIDs = map[string]int{
	"CBSE":  1,
	"ICSE":  2,
	"CAIE":  3,
	"IGCSE": 4,
	"IB":    5,
	"STATE": 6,
}

// classIDs maps grade labels to MCB class IDs per board. The same grade
// label carries a different ID under different boards; MCB models each
// board's ladder as a separate class list.
var classIDs = map[int]map[string]int{
	boardIDs["CBSE"]: {
		"NURSERY": 1101, "PP1": 1102, "PP2": 1103, "LKG": 1102, "UKG": 1103,
		"GRADE 1": 1104, "GRADE 2": 1105, "GRADE 3": 1106, "GRADE 4": 1107,
		"GRADE 5": 1108, "GRADE 6": 1109, "GRADE 7": 1110, "GRADE 8": 1111,
		"GRADE 9": 1112, "GRADE 10": 1113, "GRADE 11": 1114, "GRADE 12": 1115,
	},
	boardIDs["ICSE"]: {
		"NURSERY": 1201, "PP1": 1202, "PP2": 1203, "LKG": 1202, "UKG": 1203,
		"GRADE 1": 1204, "GRADE 2": 1205, "GRADE 3": 1206, "GRADE 4": 1207,
		"GRADE 5": 1208, "GRADE 6": 1209, "GRADE 7": 1210, "GRADE 8": 1211,
		"GRADE 9": 1212, "GRADE 10": 1213, "GRADE 11": 1214, "GRADE 12": 1215,
	},
	boardIDs["CAIE"]: {
		"NURSERY": 1301, "PP1": 1302, "PP2": 1303, "LKG": 1302, "UKG": 1303,
		"GRADE 1": 1304, "GRADE 2": 1305, "GRADE 3": 1306, "GRADE 4": 1307,
		"GRADE 5": 1308, "GRADE 6": 1309, "GRADE 7": 1310, "GRADE 8": 1311,
		"GRADE 9": 1312, "GRADE 10": 1313, "GRADE 11": 1314, "GRADE 12": 1315,
	},
	boardIDs["IGCSE"]: {
		"GRADE 6": 1409, "GRADE 7": 1410, "GRADE 8": 1411,
		"GRADE 9": 1412, "GRADE 10": 1413,
	},
	boardIDs["IB"]: {
		"GRADE 11": 1514, "GRADE 12": 1515,
	},
	boardIDs["STATE"]: {
		"NURSERY": 1601, "LKG": 1602, "UKG": 1603,
		"GRADE 1": 1604, "GRADE 2": 1605, "GRADE 3": 1606, "GRADE 4": 1607,
		"GRADE 5": 1608, "GRADE 6": 1609, "GRADE 7": 1610, "GRADE 8": 1611,
		"GRADE 9": 1612, "GRADE 10": 1613,
	},
}

// yearIDs maps "YYYY-YY" academic year labels to MCB year IDs.
var yearIDs = map[string]int{
	"2024-25": 25,
	"2025-26": 26,
	"2026-27": 27,
	"2027-28": 28,
}

// sourceIDs maps lead-source labels to MCB source IDs.
var sourceIDs = map[string]int{
	"organic":          1,
	"google":           2,
	"facebook":         3,
	"instagram":        4,
	"website":          5,
	"referral":         6,
	"chatbot":          5,
	"application_form": 5,
	"walk-in":          7,
}

// BoardID resolves a board label to its MCB board ID, defaulting to CBSE.
func BoardID(board string) int {
	if id, ok := boardIDs[strings.ToUpper(strings.TrimSpace(board))]; ok {
		return id
	}
	return defaultBoardID
}

// ClassID resolves a grade label to its MCB class ID under the given board.
// The board conditions the lookup; an unknown grade (or a grade the board's
// ladder does not offer) defaults to a mid-range class.
func ClassID(grade, board string) int {
	ladder, ok := classIDs[BoardID(board)]
	if !ok {
		return defaultClassID
	}
	if id, ok := ladder[strings.ToUpper(strings.TrimSpace(grade))]; ok {
		return id
	}
	return defaultClassID
}

// YearID resolves a "YYYY-YY" academic year label to its MCB year ID,
// defaulting to the current cycle.
func YearID(year string) int {
	if id, ok := yearIDs[strings.TrimSpace(year)]; ok {
		return id
	}
	return defaultYearID
}

// SourceID resolves the lead source to its MCB source ID. A captured UTM
// source wins over the enquiry's generic source channel; anything
// unrecognized is attributed to organic.
func SourceID(utmSource, source string) int {
	for _, candidate := range []string{utmSource, source} {
		if candidate == "" {
			continue
		}
		if id, ok := sourceIDs[strings.ToLower(strings.TrimSpace(candidate))]; ok {
			return id
		}
	}
	return defaultSourceID
}
