package generator

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindStyleSwap     = "style_swap"
	KindFloorPlanEdit = "floor_plan_edit"

	TargetExterior = "exterior"
	TargetInterior = "interior"
)

var (
	ErrUnknownKind      = errors.New("unknown operation kind")
	ErrUnknownPreset    = errors.New("unknown style preset")
	ErrUnknownTarget    = errors.New("unknown image target")
	ErrEmptyInstruction = errors.New("a style preset or instruction is required")
)

// BuildPrompt assembles the generation prompt for an operation. Style swaps
// use the preset template for the target view, optionally refined by the
// free-text instruction; floor-plan edits require an instruction.
func BuildPrompt(kind, target, presetKey, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	switch kind {
	case KindStyleSwap:
		return styleSwapPrompt(target, presetKey, instruction)
	case KindFloorPlanEdit:
		if instruction == "" {
			return "", ErrEmptyInstruction
		}
		return fmt.Sprintf(
			"Edit this architectural floor plan: %s. Keep the drawing style, room labels, wall thickness and scale consistent with the original.",
			strings.TrimRight(instruction, "."),
		), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func styleSwapPrompt(target, presetKey, instruction string) (string, error) {
	if target == "" {
		target = TargetExterior
	}
	if target != TargetExterior && target != TargetInterior {
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	keep := "Keep the same structure, rooflines, camera angle and proportions."
	if target == TargetInterior {
		keep = "Keep the same room layout, windows, camera angle and proportions."
	}

	if presetKey == "" {
		if instruction == "" {
			return "", ErrEmptyInstruction
		}
		return fmt.Sprintf("Restyle this home's %s: %s. %s", target, strings.TrimRight(instruction, "."), keep), nil
	}

	preset, ok := LookupPreset(presetKey)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, presetKey)
	}
	details := preset.Exterior
	if target == TargetInterior {
		details = preset.Interior
	}
	prompt := fmt.Sprintf("Transform this home's %s into a %s style with %s. %s", target, preset.Label, details, keep)
	if instruction != "" {
		prompt += " Additionally: " + strings.TrimRight(instruction, ".") + "."
	}
	return prompt, nil
}
