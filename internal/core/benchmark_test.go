package core

import (
	"fmt"
	"testing"
)

// ----------------------------------------------------------------------------
// Conversion Benchmarks
// ----------------------------------------------------------------------------

func BenchmarkParseNumber(b *testing.B) {
	inputs := []string{"123", "$1,234.56", "(500.00)", "1.5e3", "abc"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, s := range inputs {
			ParseNumber(s)
		}
	}
}

func BenchmarkParseDate(b *testing.B) {
	inputs := []string{"2024-03-15", "15/03/2024", "15/03/24", "Mar 15, 2024", "invalid"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, s := range inputs {
			ParseDate(s)
		}
	}
}

func BenchmarkParseBool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ParseBool("Sí")
	}
}

func BenchmarkCleanCell(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		CleanCell(`  ="12345678-9"  `)
	}
}

func BenchmarkCanonicalNationalID(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		CanonicalNationalID("12345678-9")
	}
}

// ----------------------------------------------------------------------------
// Validation Benchmarks
// ----------------------------------------------------------------------------

func BenchmarkValidate_NationalID(b *testing.B) {
	def := FieldDefinition{
		Name:         "id_code",
		Type:         FieldText,
		Rule:         regexRule(`^\d{7,8}-[0-9kK]$`),
		SemanticKind: KindNationalID,
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Validate("12.345.678-9", def)
	}
}

func BenchmarkValidateStagedRow(b *testing.B) {
	s := testSchema()
	row := RawRow{
		"id_code":    "12345678-9",
		"first name": "Ana",
		"last name":  "Soto",
		"status":     "activo",
		"age":        "41",
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ValidateStagedRow(row)
	}
}

func BenchmarkDiffFields(b *testing.B) {
	var prior, incoming Fields
	for i := 0; i < 30; i++ {
		k := fmt.Sprintf("field %d", i)
		prior.Set(k, "old")
		if i%3 == 0 {
			incoming.Set(k, "new")
		} else {
			incoming.Set(k, "old")
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DiffFields(prior, incoming)
	}
}

// ----------------------------------------------------------------------------
// Parallel Benchmarks (test concurrent safety and performance)
// ----------------------------------------------------------------------------

func BenchmarkValidateParallel(b *testing.B) {
	s := testSchema()
	row := RawRow{"id_code": "7654321-k", "first name": "Eva", "age": "abc"}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.ValidateStagedRow(row)
		}
	})
}
