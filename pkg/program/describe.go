// Package program loads a serialized DAG description (JSON) into the
// in-memory dag.Node graph the Runtime compiles and evaluates, the input
// format cmd/engine's `run` subcommand reads (§2.NEW component M).
package program

import (
	"encoding/json"
	"fmt"
	"io"

	apperrors "github.com/rasterjit/engine/pkg/errors"
	"github.com/rasterjit/engine/pkg/dag"
)

// NodeDescription is one JSON node entry. Prev references earlier entries
// by their declared ID, order-significant (mirrors dag.Node.Prev).
type NodeDescription struct {
	ID        int      `json:"id"`
	Kind      string   `json:"kind"`
	Op        string   `json:"op,omitempty"`
	ConstVal  float64  `json:"const_val,omitempty"`
	Patterns  []string `json:"pattern"`
	Prev      []int    `json:"prev,omitempty"`
	ScanStart *Coord   `json:"scan_start,omitempty"`
	Halo      []Coord  `json:"halo,omitempty"`
	Meta      Meta     `json:"meta"`
}

// Coord mirrors dag.Coord in JSON.
type Coord struct {
	X, Y, Z int
}

// Meta mirrors dag.MetaData in JSON, with human-readable enum names.
type Meta struct {
	DataSize  int    `json:"data_size"`
	DataType  string `json:"data_type,omitempty"`
	MemOrder  string `json:"mem_order,omitempty"`
	BlockSize int    `json:"block_size"`
	NumDim    int    `json:"num_dim,omitempty"`
}

// Description is the top-level JSON document: every node in dependency
// order (a node may only reference IDs that appear earlier in the list).
type Description struct {
	Nodes []NodeDescription `json:"nodes"`
}

// Load parses r into a Description.
func Load(r io.Reader) (*Description, error) {
	var d Description
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to parse DAG description", err)
	}
	return &d, nil
}

// Build materializes d into a topologically ordered []*dag.Node slice (the
// order Runtime.Compile requires, since Description.Nodes is itself
// dependency-ordered by construction).
func Build(d *Description) ([]*dag.Node, error) {
	byID := make(map[int]*dag.Node, len(d.Nodes))
	order := make([]*dag.Node, 0, len(d.Nodes))

	for _, nd := range d.Nodes {
		kind, err := parseKind(nd.Kind)
		if err != nil {
			return nil, err
		}
		pattern, err := parsePattern(nd.Patterns)
		if err != nil {
			return nil, err
		}

		n := &dag.Node{
			ID:       nd.ID,
			Kind:     kind,
			Pattern:  pattern,
			Op:       nd.Op,
			ConstVal: nd.ConstVal,
			Meta: dag.MetaData{
				DataSize:  nd.Meta.DataSize,
				DataType:  parseDataType(nd.Meta.DataType),
				MemOrder:  parseMemOrder(nd.Meta.MemOrder),
				BlockSize: nd.Meta.BlockSize,
				NumDim:    nd.Meta.NumDim,
			},
		}
		if nd.ScanStart != nil {
			n.ScanStart = dag.Coord{X: nd.ScanStart.X, Y: nd.ScanStart.Y, Z: nd.ScanStart.Z}
		}
		if len(nd.Halo) > 0 {
			deltas := make([]dag.Coord, len(nd.Halo))
			for i, c := range nd.Halo {
				deltas[i] = dag.Coord{X: c.X, Y: c.Y, Z: c.Z}
			}
			n.Halo = dag.Halo{Deltas: deltas}
		}

		for _, pid := range nd.Prev {
			p, ok := byID[pid]
			if !ok {
				return nil, fmt.Errorf("node %d references undeclared prev id %d (prev must appear earlier in the list)", nd.ID, pid)
			}
			dag.AddEdge(p, n)
		}

		byID[nd.ID] = n
		order = append(order, n)
	}

	return order, nil
}

func parseKind(s string) (dag.Kind, error) {
	switch s {
	case "Access":
		return dag.KindAccess, nil
	case "LhsAccess":
		return dag.KindLhsAccess, nil
	case "Focal":
		return dag.KindFocal, nil
	case "Reduce":
		return dag.KindReduce, nil
	case "Radial":
		return dag.KindRadial, nil
	case "SpreadNeighbor":
		return dag.KindSpreadNeighbor, nil
	case "Barrier":
		return dag.KindBarrier, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q (loop control-flow kinds are produced by pkg/loopasm, not described directly)", s)
	}
}

func parsePattern(names []string) (dag.Pattern, error) {
	var p dag.Pattern
	table := map[string]dag.Pattern{
		"FREE": dag.FREE, "LOCAL": dag.LOCAL, "FOCAL": dag.FOCAL, "ZONAL": dag.ZONAL,
		"RADIAL": dag.RADIAL, "SPREAD": dag.SPREAD, "STATS": dag.STATS,
		"MERGE": dag.MERGE, "SWITCH": dag.SWITCH, "HEAD": dag.HEAD, "TAIL": dag.TAIL,
		"LOOP": dag.LOOP, "BARRIER": dag.BARRIER,
	}
	for _, name := range names {
		bit, ok := table[name]
		if !ok {
			return 0, fmt.Errorf("unknown pattern %q", name)
		}
		p = p.Union(bit)
	}
	return p, nil
}

func parseDataType(s string) dag.DataType {
	switch s {
	case "Float32":
		return dag.Float32
	case "Int32":
		return dag.Int32
	case "Int64":
		return dag.Int64
	case "Uint8":
		return dag.Uint8
	default:
		return dag.Float64
	}
}

func parseMemOrder(s string) dag.MemOrder {
	if s == "ColMajor" {
		return dag.ColMajor
	}
	return dag.RowMajor
}
