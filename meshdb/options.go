package meshdb

import (
	"strconv"
	"strings"

	"github.com/judajake/meshdb/internal/merr"
)

// ParallelStrategy selects how a parallel read distributes mesh data
// across ranks (the `parallel=` option).
type ParallelStrategy string

const (
	ParallelNone         ParallelStrategy = ""
	ParallelReadDelete   ParallelStrategy = "read_delete"
	ParallelReadPart     ParallelStrategy = "read_part"
	ParallelBcastDelete  ParallelStrategy = "bcast_delete"
	ParallelBcast        ParallelStrategy = "bcast"
)

// Options is the parsed form of a Load/Save option string
// (`key=value;key=value;...`).
type Options struct {
	Parallel               ParallelStrategy
	PartitionTag           string
	PartitionVal           int
	HasPartitionVal        bool
	PartitionDistribute    bool
	PartitionByRank        bool
	ParallelResolveShared  bool
	GhostDim               int
	GhostBridgeDim         int
	GhostLayers            int
	HasGhosts              bool

	// raw keeps every key seen, including ones this version of the core
	// does not interpret, so a caller can inspect format-specific keys a
	// concrete reader/writer cares about.
	raw map[string]string
}

// Raw returns the value for key as it appeared in the option string, and
// whether it was present.
func (o *Options) Raw(key string) (string, bool) {
	v, ok := o.raw[key]
	return v, ok
}

// ParseOptions parses a `key=value;key=value;...` option string into
// Options. A bare key (no `=value`) is recorded with an empty value and,
// for the recognized boolean flags, treated as present/true.
func ParseOptions(s string) (*Options, error) {
	opts := &Options{raw: make(map[string]string)}
	if s == "" {
		return opts, nil
	}
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		var key, val string
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key, val = kv[:i], kv[i+1:]
		} else {
			key = kv
		}
		opts.raw[key] = val

		switch key {
		case "parallel":
			switch ParallelStrategy(val) {
			case ParallelReadDelete, ParallelReadPart, ParallelBcastDelete, ParallelBcast:
				opts.Parallel = ParallelStrategy(val)
			default:
				return nil, merr.New(merr.InvalidSize, "unrecognized parallel strategy: "+val)
			}
		case "partition":
			opts.PartitionTag = val
		case "partition_val":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, merr.New(merr.InvalidSize, "partition_val must be an integer")
			}
			opts.PartitionVal = n
			opts.HasPartitionVal = true
		case "partition_distribute":
			opts.PartitionDistribute = true
		case "partition_by_rank":
			opts.PartitionByRank = true
		case "parallel_resolve_shared_ents":
			opts.ParallelResolveShared = true
		case "parallel_ghosts":
			dim, bridge, layers, err := parseGhostSpec(val)
			if err != nil {
				return nil, err
			}
			opts.GhostDim, opts.GhostBridgeDim, opts.GhostLayers = dim, bridge, layers
			opts.HasGhosts = true
		}
	}
	return opts, nil
}

// parseGhostSpec parses the `D.B.L` form of the parallel_ghosts option
// value: ghost dimension, bridge dimension, number of layers.
func parseGhostSpec(val string) (dim, bridge, layers int, err error) {
	parts := strings.Split(val, ".")
	if len(parts) != 3 {
		return 0, 0, 0, merr.New(merr.InvalidSize, "parallel_ghosts expects D.B.L")
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, merr.New(merr.InvalidSize, "parallel_ghosts components must be integers")
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
