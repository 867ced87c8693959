package generator

// Preset is a named architectural style with prompt templates for the
// exterior and interior views.
type Preset struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Exterior    string `json:"-"`
	Interior    string `json:"-"`
}

var presets = []Preset{
	{
		Key:         "modern_farmhouse",
		Label:       "Modern Farmhouse",
		Description: "White board-and-batten siding, black trim and warm wood accents.",
		Exterior:    "white board-and-batten siding, black window frames, standing-seam metal roof accents, natural wood porch posts",
		Interior:    "shiplap walls, wide-plank white oak floors, matte black fixtures, neutral linen textiles",
	},
	{
		Key:         "craftsman",
		Label:       "Craftsman",
		Description: "Tapered columns, exposed rafters and earthy tones.",
		Exterior:    "tapered porch columns on stone piers, exposed rafter tails, earthy green and brown siding, multi-pane windows",
		Interior:    "built-in cabinetry, stained wood trim, warm earth tones, mission-style lighting",
	},
	{
		Key:         "contemporary",
		Label:       "Contemporary",
		Description: "Clean lines, large glazing and mixed materials.",
		Exterior:    "flat and shed roof lines, large floor-to-ceiling glazing, smooth stucco with horizontal wood cladding",
		Interior:    "minimal detailing, polished concrete floors, flush cabinetry, statement pendant lighting",
	},
	{
		Key:         "coastal",
		Label:       "Coastal",
		Description: "Light, airy palette with shingle siding.",
		Exterior:    "light grey cedar shingle siding, white trim, wraparound porch, soft blue shutters",
		Interior:    "whitewashed wood, sandy neutrals with soft blue accents, rattan and linen furnishings",
	},
	{
		Key:         "mediterranean",
		Label:       "Mediterranean",
		Description: "Stucco walls, terracotta roof tiles and arched openings.",
		Exterior:    "warm stucco walls, red terracotta barrel tile roof, arched windows and doorways, wrought iron details",
		Interior:    "terracotta tile floors, arched openings, textured plaster walls, wrought iron lighting",
	},
	{
		Key:         "transitional",
		Label:       "Transitional",
		Description: "A balance of traditional warmth and modern restraint.",
		Exterior:    "painted brick and lap siding, simple gable roof, symmetrical windows with subtle trim",
		Interior:    "warm greige walls, shaker cabinetry, mixed metal finishes, comfortable tailored furniture",
	},
	{
		Key:         "scandinavian",
		Label:       "Scandinavian",
		Description: "Pale woods, white walls and simple forms.",
		Exterior:    "dark vertical timber cladding, steep simple gable roof, minimal black window frames",
		Interior:    "white walls, pale ash floors, simple functional furniture, soft wool textiles, abundant daylight",
	},
	{
		Key:         "industrial",
		Label:       "Industrial",
		Description: "Brick, steel and exposed structure.",
		Exterior:    "exposed red brick, black steel-framed windows, metal awnings, flat roof parapets",
		Interior:    "exposed brick and ductwork, steel-framed glass partitions, concrete floors, Edison-bulb lighting",
	},
}

var presetIndex = func() map[string]Preset {
	m := make(map[string]Preset, len(presets))
	for _, p := range presets {
		m[p.Key] = p
	}
	return m
}()

// Presets returns the style presets in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset finds a preset by key.
func LookupPreset(key string) (Preset, bool) {
	p, ok := presetIndex[key]
	return p, ok
}
