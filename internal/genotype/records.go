package genotype

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"phylogen/internal/model"
)

// Genotypes persist as a stream of tagged line-delimited JSON records:
// one header, one genotype metadata record, one record per gene, then a
// trailer carrying the counts the decoder verifies against.

const (
	SupportedSchemaVersion = 1
	SupportedCodecVersion  = 1

	recordFormat = "phylogen/genotype"
)

const (
	recordKindHeader     = "header"
	recordKindGenotype   = "genotype"
	recordKindNode       = "node"
	recordKindConnection = "connection"
	recordKindSensor     = "sensor"
	recordKindActuator   = "actuator"
	recordKindTrailer    = "trailer"
)

var (
	ErrRecordStream  = errors.New("genotype: malformed record stream")
	ErrRecordVersion = errors.New("genotype: unsupported record version")
)

type taggedRecord struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type headerRecord struct {
	Format string `json:"format"`
	model.VersionedRecord
}

type genotypeRecord struct {
	ID              string  `json:"id"`
	Fitness         float64 `json:"fitness"`
	AdjustedFitness float64 `json:"adjusted_fitness,omitempty"`
	SpeciesID       string  `json:"species_id,omitempty"`
	Generation      int     `json:"generation"`
}

type trailerRecord struct {
	Nodes       int `json:"nodes"`
	Connections int `json:"connections"`
	Sensors     int `json:"sensors"`
	Actuators   int `json:"actuators"`
}

func encodeRecord(enc *json.Encoder, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", kind, err)
	}
	if err := enc.Encode(taggedRecord{Kind: kind, Payload: raw}); err != nil {
		return fmt.Errorf("write %s record: %w", kind, err)
	}
	return nil
}

// EncodeRecords writes g to w as a tagged record stream. The genotype is
// validated first so a malformed value never reaches disk.
func EncodeRecords(w io.Writer, g model.Genotype) error {
	if err := Validate(g); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	enc := json.NewEncoder(w)
	header := headerRecord{Format: recordFormat}
	header.SchemaVersion = SupportedSchemaVersion
	header.CodecVersion = SupportedCodecVersion
	if err := encodeRecord(enc, recordKindHeader, header); err != nil {
		return err
	}
	meta := genotypeRecord{
		ID:              g.ID,
		Fitness:         g.Fitness,
		AdjustedFitness: g.AdjustedFitness,
		SpeciesID:       g.SpeciesID,
		Generation:      g.Generation,
	}
	if err := encodeRecord(enc, recordKindGenotype, meta); err != nil {
		return err
	}
	for _, node := range g.Nodes {
		if err := encodeRecord(enc, recordKindNode, node); err != nil {
			return err
		}
	}
	for _, conn := range g.Connections {
		if err := encodeRecord(enc, recordKindConnection, conn); err != nil {
			return err
		}
	}
	for _, sensor := range g.Sensors {
		if err := encodeRecord(enc, recordKindSensor, sensor); err != nil {
			return err
		}
	}
	for _, actuator := range g.Actuators {
		if err := encodeRecord(enc, recordKindActuator, actuator); err != nil {
			return err
		}
	}
	trailer := trailerRecord{
		Nodes:       len(g.Nodes),
		Connections: len(g.Connections),
		Sensors:     len(g.Sensors),
		Actuators:   len(g.Actuators),
	}
	return encodeRecord(enc, recordKindTrailer, trailer)
}

// DecodeRecords reads one tagged record stream from r and rebuilds the
// genotype. The header must come first and carry supported versions, the
// trailer counts must match the genes seen, and the result must pass
// Validate. Connection order is restored from innovations, so a stream
// whose gene records were shuffled still decodes to the canonical form.
func DecodeRecords(r io.Reader) (model.Genotype, error) {
	dec := json.NewDecoder(r)

	var g model.Genotype
	sawHeader := false
	sawGenotype := false
	var trailer *trailerRecord
	for {
		var rec taggedRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return model.Genotype{}, fmt.Errorf("%w: %v", ErrRecordStream, err)
		}
		if trailer != nil {
			return model.Genotype{}, fmt.Errorf("%w: record after trailer", ErrRecordStream)
		}
		if !sawHeader && rec.Kind != recordKindHeader {
			return model.Genotype{}, fmt.Errorf("%w: first record is %q, want header", ErrRecordStream, rec.Kind)
		}
		switch rec.Kind {
		case recordKindHeader:
			if sawHeader {
				return model.Genotype{}, fmt.Errorf("%w: duplicate header", ErrRecordStream)
			}
			var header headerRecord
			if err := json.Unmarshal(rec.Payload, &header); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: header payload: %v", ErrRecordStream, err)
			}
			if header.Format != recordFormat {
				return model.Genotype{}, fmt.Errorf("%w: format %q", ErrRecordStream, header.Format)
			}
			if header.SchemaVersion != SupportedSchemaVersion || header.CodecVersion != SupportedCodecVersion {
				return model.Genotype{}, fmt.Errorf("%w: schema %d codec %d", ErrRecordVersion, header.SchemaVersion, header.CodecVersion)
			}
			g.SchemaVersion = header.SchemaVersion
			g.CodecVersion = header.CodecVersion
			sawHeader = true
		case recordKindGenotype:
			if sawGenotype {
				return model.Genotype{}, fmt.Errorf("%w: duplicate genotype record", ErrRecordStream)
			}
			var meta genotypeRecord
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: genotype payload: %v", ErrRecordStream, err)
			}
			g.ID = meta.ID
			g.Fitness = meta.Fitness
			g.AdjustedFitness = meta.AdjustedFitness
			g.SpeciesID = meta.SpeciesID
			g.Generation = meta.Generation
			sawGenotype = true
		case recordKindNode:
			var node model.NodeGene
			if err := json.Unmarshal(rec.Payload, &node); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: node payload: %v", ErrRecordStream, err)
			}
			g.Nodes = append(g.Nodes, node)
		case recordKindConnection:
			var conn model.ConnectionGene
			if err := json.Unmarshal(rec.Payload, &conn); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: connection payload: %v", ErrRecordStream, err)
			}
			g.Connections = append(g.Connections, conn)
		case recordKindSensor:
			var sensor model.SensorGene
			if err := json.Unmarshal(rec.Payload, &sensor); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: sensor payload: %v", ErrRecordStream, err)
			}
			g.Sensors = append(g.Sensors, sensor)
		case recordKindActuator:
			var actuator model.ActuatorGene
			if err := json.Unmarshal(rec.Payload, &actuator); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: actuator payload: %v", ErrRecordStream, err)
			}
			g.Actuators = append(g.Actuators, actuator)
		case recordKindTrailer:
			var t trailerRecord
			if err := json.Unmarshal(rec.Payload, &t); err != nil {
				return model.Genotype{}, fmt.Errorf("%w: trailer payload: %v", ErrRecordStream, err)
			}
			trailer = &t
		default:
			return model.Genotype{}, fmt.Errorf("%w: unknown record kind %q", ErrRecordStream, rec.Kind)
		}
	}
	if !sawHeader {
		return model.Genotype{}, fmt.Errorf("%w: empty stream", ErrRecordStream)
	}
	if !sawGenotype {
		return model.Genotype{}, fmt.Errorf("%w: missing genotype record", ErrRecordStream)
	}
	if trailer == nil {
		return model.Genotype{}, fmt.Errorf("%w: missing trailer", ErrRecordStream)
	}
	if trailer.Nodes != len(g.Nodes) || trailer.Connections != len(g.Connections) ||
		trailer.Sensors != len(g.Sensors) || trailer.Actuators != len(g.Actuators) {
		return model.Genotype{}, fmt.Errorf("%w: trailer counts %d/%d/%d/%d do not match records %d/%d/%d/%d",
			ErrRecordStream,
			trailer.Nodes, trailer.Connections, trailer.Sensors, trailer.Actuators,
			len(g.Nodes), len(g.Connections), len(g.Sensors), len(g.Actuators))
	}
	SortConnections(g.Connections)
	if err := Validate(g); err != nil {
		return model.Genotype{}, fmt.Errorf("decode records: %w", err)
	}
	return g, nil
}

// SaveFile writes the record stream atomically via a sibling temp file.
func SaveFile(path string, g model.Genotype) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create genotype dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".genotype-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp genotype file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := EncodeRecords(tmp, g); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp genotype file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace genotype file: %w", err)
	}
	return nil
}

func LoadFile(path string) (model.Genotype, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Genotype{}, fmt.Errorf("open genotype file: %w", err)
	}
	defer f.Close()
	g, err := DecodeRecords(f)
	if err != nil {
		return model.Genotype{}, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}
