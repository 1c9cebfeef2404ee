package media

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// ListDevices returns V4L2 capture device paths, ordered by index. An empty
// slice with a nil error means no camera is attached.
func ListDevices() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return videoDevicePaths(names), nil
}

func videoDevicePaths(names []string) []string {
	type dev struct {
		path  string
		index int
	}
	var devs []dev
	for _, name := range names {
		idx, ok := videoDeviceIndex(name)
		if !ok {
			continue
		}
		devs = append(devs, dev{path: "/dev/" + name, index: idx})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].index < devs[j].index })
	paths := make([]string, len(devs))
	for i, d := range devs {
		paths[i] = d.path
	}
	return paths
}

func videoDeviceIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "video")
	if !ok || rest == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return idx, true
}
