// Package corpus registers the known legal sources of the Colombian
// transit corpus: their display names, source types and effective
// years. Document-level metadata for ingestion comes from here.
package corpus

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// SourceInfo describes one registered corpus source.
type SourceInfo struct {
	Name           string // display name used in citations
	Type           schema.SourceType
	Year           int
	OfficialSource string
}

// EffectiveDate returns the first day of the source's effective year.
func (s SourceInfo) EffectiveDate() time.Time {
	return time.Date(s.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// registry maps source identifiers to their metadata. Priority for
// ranking is not stored here: it derives from the source type.
var registry = map[string]SourceInfo{
	"constitucion": {
		Name:           "Constitución Política de Colombia 1991",
		Type:           schema.SourceConstitution,
		Year:           1991,
		OfficialSource: "Secretaría del Senado",
	},
	"codigo_transito": {
		Name:           "Ley 769 de 2002 (Código Nacional de Tránsito Terrestre)",
		Type:           schema.SourceLaw,
		Year:           2002,
		OfficialSource: "Secretaría del Senado",
	},
	"ley_1843": {
		Name:           "Ley 1843 de 2017 (Fotodetección de Infracciones)",
		Type:           schema.SourceLaw,
		Year:           2017,
		OfficialSource: "Secretaría del Senado",
	},
	"ley_2251": {
		Name:           "Ley 2251 de 2022 (Ley Julián Esteban - Velocidad)",
		Type:           schema.SourceLaw,
		Year:           2022,
		OfficialSource: "Función Pública",
	},
	"decreto_2106": {
		Name:           "Decreto 2106 de 2019 (Simplificación de Trámites)",
		Type:           schema.SourceDecree,
		Year:           2019,
		OfficialSource: "Función Pública",
	},
	"decreto_1079": {
		Name:           "Decreto 1079 de 2015 (Decreto Único Reglamentario Transporte)",
		Type:           schema.SourceDecree,
		Year:           2015,
		OfficialSource: "Ministerio de Transporte",
	},
	"resolucion_compilatoria": {
		Name:           "Resolución 20223040045295 de 2022 (Resolución Única Compilatoria)",
		Type:           schema.SourceResolution,
		Year:           2022,
		OfficialSource: "Ministerio de Transporte",
	},
	"resolucion_cascos": {
		Name:           "Resolución 20203040023385 de 2020 (Condiciones Uso Casco)",
		Type:           schema.SourceResolution,
		Year:           2020,
		OfficialSource: "Ministerio de Transporte",
	},
	"jurisprudencia": {
		Name:           "Jurisprudencia Constitucional",
		Type:           schema.SourceJurisprudence,
		Year:           2020,
		OfficialSource: "Corte Constitucional / Consejo de Estado",
	},
	"circular_plan365": {
		Name:           "Circular Conjunta 023 de 2025 (Plan 365)",
		Type:           schema.SourceCircular,
		Year:           2025,
		OfficialSource: "MinTransporte + ANSV + Supertransporte + DITRA",
	},
	"senorbiter": {
		Name:           "Guías Prácticas Señor Biter",
		Type:           schema.SourceGuide,
		Year:           2024,
		OfficialSource: "senorbiter.com",
	},
}

// Lookup returns the metadata for a registered source identifier.
func Lookup(sourceID string) (SourceInfo, error) {
	info, ok := registry[sourceID]
	if !ok {
		return SourceInfo{}, fmt.Errorf("source %q is not registered in the corpus", sourceID)
	}
	return info, nil
}

// DisplayName returns the citation display name for a source, falling
// back to the identifier itself for unregistered sources.
func DisplayName(sourceID string) string {
	if info, ok := registry[sourceID]; ok {
		return info.Name
	}
	return sourceID
}

// SourceIDs returns all registered identifiers in stable order.
func SourceIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
