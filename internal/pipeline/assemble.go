package pipeline

import (
	"errors"

	"aala/internal"
)

var (
	ErrNoManufacturer = errors.New("no resolvable manufacturer")
	ErrNoGeography    = errors.New("engine, transmission and assembly origins all unresolved")
)

// Assemble turns a normalized row into a record. It rejects rows without a
// manufacturer and rows where no origin field resolved; anything else is
// kept with its unresolved fields.
func Assemble(row NormalizedRow) (internal.VehicleRecord, error) {
	if row.Manufacturer == nil || *row.Manufacturer == "" {
		return internal.VehicleRecord{}, ErrNoManufacturer
	}
	if !row.EngineOrigin.Resolved() && !row.TransmissionOrigin.Resolved() && !row.AssemblyCountry.Resolved() {
		return internal.VehicleRecord{}, ErrNoGeography
	}

	return internal.VehicleRecord{
		Manufacturer:       *row.Manufacturer,
		ModelYear:          row.Provenance.ModelYear,
		CarLine:            row.CarLine,
		VehicleType:        row.VehicleType,
		EngineOrigin:       row.EngineOrigin,
		TransmissionOrigin: row.TransmissionOrigin,
		AssemblyCountry:    row.AssemblyCountry,
		AssemblyCity:       row.AssemblyCity,
		USCanadaContent:    row.USCanadaContent,
		Sources:            append([]internal.SourceShare(nil), row.Sources...),
		Provenance:         row.Provenance,
	}, nil
}

func rejectionKind(err error) string {
	switch {
	case errors.Is(err, ErrNoManufacturer):
		return "no_manufacturer"
	case errors.Is(err, ErrNoGeography):
		return "no_geography"
	default:
		return "error"
	}
}
