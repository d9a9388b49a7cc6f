package businessflow

import (
	"fmt"
	"slices"

	"github.com/amirphl/warmup-orchestrator/models"
)

// PostActionUpdateUsername rewrites the account username after the username phase succeeds
const PostActionUpdateUsername = "update_username_in_database"

// Executor-side helper scripts
const (
	APIScriptPhotoCleaner = "ios16_photo_cleaner"
	APIScriptGallery      = "gallery"
	APIScriptClipboard    = "clipboard"
	APIScriptLuaExecutor  = "lua_executor"
)

// PhaseDescriptor is the static description of one warmup phase.
// ContentCategories and TextCategories are tried in order before widening to "any".
type PhaseDescriptor struct {
	Phase             models.WarmupPhase
	Description       string
	RequiresContent   bool
	RequiresText      bool
	ContentCategories []string
	TextCategories    []string
	Dependencies      []models.WarmupPhase
	APIScripts        []string
	LuaScript         string
	PostAction        string
}

// ScriptSequence is what the executor runs for one phase on one container
type ScriptSequence struct {
	APIScripts []string `json:"api_scripts"`
	LuaScripts []string `json:"lua_scripts"`
}

var (
	textOnlyScripts     = []string{APIScriptPhotoCleaner, APIScriptClipboard, APIScriptLuaExecutor}
	mediaScripts        = []string{APIScriptPhotoCleaner, APIScriptGallery, APIScriptLuaExecutor}
	mediaAndText        = []string{APIScriptPhotoCleaner, APIScriptGallery, APIScriptClipboard, APIScriptLuaExecutor}
	manualSetupOnly     = []models.WarmupPhase{models.WarmupPhaseManualSetup}
	afterFirstHighlight = []models.WarmupPhase{models.WarmupPhaseManualSetup, models.WarmupPhaseFirstHighlight}
)

var phaseDescriptors = map[models.WarmupPhase]PhaseDescriptor{
	models.WarmupPhaseManualSetup: {
		Description: "Manual account setup",
	},
	models.WarmupPhaseBio: {
		Description:    "Change bio from clipboard",
		RequiresText:   true,
		TextCategories: []string{models.AssetCategoryBio},
		Dependencies:   manualSetupOnly,
		APIScripts:     textOnlyScripts,
		LuaScript:      "change_bio_to_clipboard.lua",
	},
	models.WarmupPhaseGender: {
		Description:  "Change gender",
		Dependencies: manualSetupOnly,
		APIScripts:   []string{APIScriptPhotoCleaner, APIScriptLuaExecutor},
		LuaScript:    "change_gender_to_female.lua",
	},
	models.WarmupPhaseName: {
		Description:    "Change display name from clipboard",
		RequiresText:   true,
		TextCategories: []string{models.AssetCategoryName},
		Dependencies:   manualSetupOnly,
		APIScripts:     textOnlyScripts,
		LuaScript:      "change_name_to_clipboard.lua",
	},
	models.WarmupPhaseUsername: {
		Description:    "Change username from clipboard",
		RequiresText:   true,
		TextCategories: []string{models.AssetCategoryUsername},
		Dependencies:   manualSetupOnly,
		APIScripts:     textOnlyScripts,
		LuaScript:      "change_username_to_clipboard.lua",
		PostAction:     PostActionUpdateUsername,
	},
	models.WarmupPhaseFirstHighlight: {
		Description:       "Upload first highlight group",
		RequiresContent:   true,
		RequiresText:      true,
		ContentCategories: []string{models.AssetCategoryHighlight},
		TextCategories:    []string{models.AssetCategoryHighlightGroupName},
		Dependencies:      manualSetupOnly,
		APIScripts:        mediaAndText,
		LuaScript:         "upload_first_highlight_group_with_clipboard_name_newest_media_no_caption.lua",
	},
	models.WarmupPhaseNewHighlight: {
		Description:       "Upload new highlight group",
		RequiresContent:   true,
		RequiresText:      true,
		ContentCategories: []string{models.AssetCategoryHighlight},
		TextCategories:    []string{models.AssetCategoryHighlightGroupName},
		Dependencies:      afterFirstHighlight,
		APIScripts:        mediaAndText,
		LuaScript:         "upload_new_highlightgroup_clipboard_name_newest_media_no_caption.lua",
	},
	models.WarmupPhasePostCaption: {
		Description:       "Upload post with caption",
		RequiresContent:   true,
		RequiresText:      true,
		ContentCategories: []string{models.AssetCategoryPost},
		TextCategories:    []string{models.AssetCategoryPost},
		Dependencies:      manualSetupOnly,
		APIScripts:        mediaAndText,
		LuaScript:         "upload_post_newest_media_clipboard_caption.lua",
	},
	models.WarmupPhasePostNoCaption: {
		Description:       "Upload post without caption",
		RequiresContent:   true,
		ContentCategories: []string{models.AssetCategoryPost},
		Dependencies:      manualSetupOnly,
		APIScripts:        mediaScripts,
		LuaScript:         "upload_post_newest_media_no_caption.lua",
	},
	models.WarmupPhaseStoryCaption: {
		Description:       "Upload story with caption",
		RequiresContent:   true,
		RequiresText:      true,
		ContentCategories: []string{models.AssetCategoryStory},
		TextCategories:    []string{models.AssetCategoryStory},
		Dependencies:      manualSetupOnly,
		APIScripts:        mediaAndText,
		LuaScript:         "upload_story_newest_media_clipboard_caption.lua",
	},
	models.WarmupPhaseStoryNoCaption: {
		Description:       "Upload story without caption",
		RequiresContent:   true,
		ContentCategories: []string{models.AssetCategoryStory},
		Dependencies:      manualSetupOnly,
		APIScripts:        mediaScripts,
		LuaScript:         "upload_story_newest_media_no_caption.lua",
	},
	models.WarmupPhaseSetToPrivate: {
		Description: "Set account to private",
		// every other phase; filled in init
		APIScripts: []string{APIScriptLuaExecutor},
		LuaScript:  "set_account_private.lua",
	},
}

func init() {
	for phase, d := range phaseDescriptors {
		d.Phase = phase
		if phase == models.WarmupPhaseSetToPrivate {
			for _, p := range models.OrderedWarmupPhases {
				if p != models.WarmupPhaseSetToPrivate {
					d.Dependencies = append(d.Dependencies, p)
				}
			}
		}
		phaseDescriptors[phase] = d
	}
}

// DescriptorFor returns the descriptor of phase
func DescriptorFor(phase models.WarmupPhase) (PhaseDescriptor, bool) {
	d, ok := phaseDescriptors[phase]
	return d, ok
}

// ScriptSequenceFor returns the descriptor of phase and the scripts the executor runs for it
// on the given container. Phases without automation return an empty sequence.
func ScriptSequenceFor(phase models.WarmupPhase, containerHandle string) (PhaseDescriptor, ScriptSequence) {
	d, ok := phaseDescriptors[phase]
	if !ok || d.LuaScript == "" {
		return d, ScriptSequence{APIScripts: []string{}, LuaScripts: []string{}}
	}
	return d, ScriptSequence{
		APIScripts: slices.Clone(d.APIScripts),
		LuaScripts: []string{
			fmt.Sprintf("open_container%s.lua", containerHandle),
			d.LuaScript,
		},
	}
}

// DependenciesMet reports whether every dependency of phase is completed in statuses
func DependenciesMet(phase models.WarmupPhase, statuses map[models.WarmupPhase]models.PhaseStatus) bool {
	d, ok := phaseDescriptors[phase]
	if !ok {
		return false
	}
	for _, dep := range d.Dependencies {
		if statuses[dep] != models.PhaseStatusCompleted {
			return false
		}
	}
	return true
}

// UnlockablePhases returns the pending phases whose dependencies are all completed, in canonical order
func UnlockablePhases(statuses map[models.WarmupPhase]models.PhaseStatus) []models.WarmupPhase {
	var out []models.WarmupPhase
	for _, p := range models.OrderedWarmupPhases {
		if statuses[p] == models.PhaseStatusPending && DependenciesMet(p, statuses) {
			out = append(out, p)
		}
	}
	return out
}

// categoriesWithFallback appends "any" unless already present
func categoriesWithFallback(categories []string) []string {
	out := slices.Clone(categories)
	if !slices.Contains(out, models.AssetCategoryAny) {
		out = append(out, models.AssetCategoryAny)
	}
	return out
}
