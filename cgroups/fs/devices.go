package fs

import (
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

type DevicesGroup struct{}

func (g *DevicesGroup) Set(dir string, spec *specs.DeviceSpec, replace bool) error {
	if spec.DenyAll != nil && *spec.DenyAll {
		if err := writeFile(dir, "devices.deny", "a"); err != nil {
			return err
		}
	} else if replace {
		if err := writeFile(dir, "devices.allow", "a"); err != nil {
			return err
		}
	}
	for _, rule := range spec.Allow {
		formatted, err := formatRule(rule)
		if err != nil {
			return err
		}
		if err := writeFile(dir, "devices.allow", formatted); err != nil {
			return err
		}
	}
	return nil
}

func (g *DevicesGroup) Spec(dir string) (*specs.DeviceSpec, error) {
	raw, err := readFileString(dir, "devices.list")
	if err != nil {
		return nil, err
	}
	spec := &specs.DeviceSpec{}
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		rule, err := parseRule(line)
		if err != nil {
			return nil, err
		}
		spec.Allow = append(spec.Allow, rule)
	}
	// "a *:* rwm" alone means everything is allowed; anything narrower
	// implies the deny-all base rule.
	if len(spec.Allow) != 1 || spec.Allow[0].Type != "a" {
		deny := true
		spec.DenyAll = &deny
	}
	return spec, nil
}

func formatRule(r specs.DeviceRule) (string, error) {
	switch r.Type {
	case "a", "b", "c":
	default:
		return "", status.Errorf(codes.InvalidArgument, "bad device rule type %q", r.Type)
	}
	for _, c := range r.Access {
		if c != 'r' && c != 'w' && c != 'm' {
			return "", status.Errorf(codes.InvalidArgument, "bad device access %q", r.Access)
		}
	}
	return fmt.Sprintf("%s %s:%s %s", r.Type, devNum(r.Major), devNum(r.Minor), r.Access), nil
}

func parseRule(line string) (specs.DeviceRule, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return specs.DeviceRule{}, status.Errorf(codes.Internal, "malformed devices.list line %q", line)
	}
	nums := strings.SplitN(fields[1], ":", 2)
	if len(nums) != 2 {
		return specs.DeviceRule{}, status.Errorf(codes.Internal, "malformed device number %q", fields[1])
	}
	major, err := parseDevNum(nums[0])
	if err != nil {
		return specs.DeviceRule{}, err
	}
	minor, err := parseDevNum(nums[1])
	if err != nil {
		return specs.DeviceRule{}, err
	}
	return specs.DeviceRule{Type: fields[0], Major: major, Minor: minor, Access: fields[2]}, nil
}

func devNum(n int64) string {
	if n < 0 {
		return "*"
	}
	return strconv.FormatInt(n, 10)
}

func parseDevNum(s string) (int64, error) {
	if s == "*" {
		return -1, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.Internal, "malformed device number %q: %v", s, err)
	}
	return n, nil
}
