package service

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// deviceFilter decides which devices a view presents.
type deviceFilter struct {
	expression string
	program    *vm.Program
}

func filterEnv(d DeviceView) map[string]interface{} {
	return map[string]interface{}{
		"id":       d.ID,
		"name":     d.Name,
		"isActive": d.IsActive,
		"status":   string(d.Status),
		"pending":  d.Pending,
	}
}

func compileDeviceFilter(expression string) (*deviceFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(filterEnv(DeviceView{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile device filter: %w", err)
	}
	return &deviceFilter{expression: expression, program: program}, nil
}

// apply keeps the devices the expression accepts. Evaluation errors hide the
// device.
func (f *deviceFilter) apply(list []DeviceView) ([]DeviceView, error) {
	if f == nil || f.program == nil {
		return list, nil
	}
	result := make([]DeviceView, 0, len(list))
	var firstErr error
	for _, device := range list {
		out, err := vm.Run(f.program, filterEnv(device))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("device filter %q on %s: %w", f.expression, device.ID, err)
			}
			continue
		}
		if keep, ok := out.(bool); ok && keep {
			result = append(result, device)
		}
	}
	return result, firstErr
}
