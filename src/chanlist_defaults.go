package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Built-in channel list presets.
 *
 * Description:	When the config file defines no channellist= lines we
 *		fall back to a preset file, so a bare config with one
 *		ncsource= still hops sensibly.  An operator can drop a
 *		channels.yaml in the working directory or in the shared
 *		data directories to override the compiled-in copy.
 *
 *---------------------------------------------------------------*/

import (
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed channels.yaml
var builtin_channels_yaml []byte

/* Search list, first hit wins. */
var channels_yaml_paths = []string{
	"channels.yaml",                       // Current working directory
	"data/channels.yaml",                  // data/ under the working directory
	"/usr/local/share/husky/channels.yaml",
	"/usr/share/husky/channels.yaml",
}

type channels_yaml_entry_t struct {
	Name     string `yaml:"name"`
	Channels string `yaml:"channels"`
}

type channels_yaml_t struct {
	ChannelLists []channels_yaml_entry_t `yaml:"channellists"`
}

/*-------------------------------------------------------------------
 *
 * Name:        default_channel_lists
 *
 * Purpose:     Produce preset channel list specs in the same
 *		"<name>:<ch>[:<dwell>],..." form the config file uses.
 *
 * Returns:	Spec strings ready for AddChannelList, or nothing if
 *		the chosen preset file does not parse.  The compiled-in
 *		copy is used when no file on the search list is
 *		readable.
 *
 *--------------------------------------------------------------------*/

func default_channel_lists(core *core_state_t) []string {
	var raw = builtin_channels_yaml

	for _, path := range channels_yaml_paths {
		var data, readErr = os.ReadFile(path)
		if readErr == nil {
			core.msg("Using channel list presets from "+path, MSG_INFO)
			raw = data
			break
		}
	}

	var parsed channels_yaml_t

	if yamlErr := yaml.Unmarshal(raw, &parsed); yamlErr != nil {
		core.msg("Failed to parse channel list presets: "+yamlErr.Error(), MSG_ERROR)
		return nil
	}

	var specs []string

	for _, entry := range parsed.ChannelLists {
		if entry.Name == "" || entry.Channels == "" {
			continue
		}

		specs = append(specs, entry.Name+":"+entry.Channels)
	}

	return specs
}
