package trajectory

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

// probeDirections are the six axis look directions rendered from every probe.
var probeDirections = [6]mgl32.Vec3{
	{0, 0, 1}, {0, 0, -1}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0},
}

// readFloats returns every number in a text file, skipping '#' comments. Commas and parentheses
// count as whitespace so exported "float3(x, y, z)" lists parse too.
func readFloats(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []float32
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ',' || r == '(' || r == ')'
		})
		for _, field := range fields {
			if strings.HasPrefix(field, "float3") {
				field = strings.TrimPrefix(field, "float3")
				if field == "" {
					continue
				}
			}
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(v))
		}
	}
	return out, sc.Err()
}

// records splits values into groups of width, honoring an optional leading count.
func records(values []float32, width int) ([][]float32, bool) {
	count := -1
	if len(values)%width == 1 {
		count = int(values[0])
		values = values[1:]
	}
	if len(values)%width != 0 {
		return nil, false
	}
	n := len(values) / width
	if count >= 0 {
		n = min(n, count)
	}
	out := make([][]float32, n)
	for i := range n {
		out[i] = values[i*width : (i+1)*width]
	}
	return out, true
}

// LoadWaypoints reads camera waypoints from a text file: an optional count, then nine numbers per
// waypoint (position, target, up). A missing or malformed file yields an empty list and a warning.
//
// Parameters:
//   - path: the file to read; empty returns nil without a warning
//
// Returns:
//   - []common.Pose: the waypoints
func LoadWaypoints(path string) []common.Pose {
	if path == "" {
		return nil
	}
	values, err := readFloats(path)
	if err != nil {
		common.Logger().Warn("waypoint file unreadable", "component", "trajectory", "path", path, "error", err)
		return nil
	}
	recs, ok := records(values, 9)
	if !ok {
		common.Logger().Warn("waypoint file malformed", "component", "trajectory", "path", path, "values", len(values))
		return nil
	}
	out := make([]common.Pose, len(recs))
	for i, r := range recs {
		out[i] = common.Pose{
			Position: mgl32.Vec3{r[0], r[1], r[2]},
			Target:   mgl32.Vec3{r[3], r[4], r[5]},
			Up:       mgl32.Vec3{r[6], r[7], r[8]},
		}
	}
	common.Logger().Info("waypoints loaded", "component", "trajectory", "path", path, "count", len(out))
	return out
}

// LoadProbePositions reads probe positions: an optional count, then three numbers per probe.
// A missing or malformed file yields an empty list and a warning.
func LoadProbePositions(path string) []mgl32.Vec3 {
	if path == "" {
		return nil
	}
	values, err := readFloats(path)
	if err != nil {
		common.Logger().Warn("probe file unreadable", "component", "trajectory", "path", path, "error", err)
		return nil
	}
	recs, ok := records(values, 3)
	if !ok {
		common.Logger().Warn("probe file malformed", "component", "trajectory", "path", path, "values", len(values))
		return nil
	}
	out := make([]mgl32.Vec3, len(recs))
	for i, r := range recs {
		out[i] = mgl32.Vec3{r[0], r[1], r[2]}
	}
	return out
}

// GridProbes places probeCount^3 probes at the cell centers of a regular grid over bounds.
//
// Parameters:
//   - bounds: the region to cover
//   - probeCount: probes per axis; values below 1 yield no probes
//
// Returns:
//   - []mgl32.Vec3: probe positions, x-major
func GridProbes(bounds common.BoundingBox, probeCount int) []mgl32.Vec3 {
	if probeCount < 1 {
		return nil
	}
	ext := bounds.Extent()
	n := float32(probeCount)
	out := make([]mgl32.Vec3, 0, probeCount*probeCount*probeCount)
	for i := range probeCount {
		for j := range probeCount {
			for k := range probeCount {
				out = append(out, mgl32.Vec3{
					bounds.Min[0] + ext[0]*(float32(i)+0.5)/n,
					bounds.Min[1] + ext[1]*(float32(j)+0.5)/n,
					bounds.Min[2] + ext[2]*(float32(k)+0.5)/n,
				})
			}
		}
	}
	return out
}

// ProbeWaypoints expands every probe into six waypoints looking along the axes. Vertical looks
// use +Z as up.
//
// Parameters:
//   - probes: probe positions
//
// Returns:
//   - []common.Pose: six poses per probe
func ProbeWaypoints(probes []mgl32.Vec3) []common.Pose {
	out := make([]common.Pose, 0, len(probes)*len(probeDirections))
	for _, p := range probes {
		for d, dir := range probeDirections {
			up := mgl32.Vec3{0, 1, 0}
			if d >= 4 {
				up = mgl32.Vec3{0, 0, 1}
			}
			out = append(out, common.Pose{Position: p, Target: p.Add(dir), Up: up})
		}
	}
	return out
}
