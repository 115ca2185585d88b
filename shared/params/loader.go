package params

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("prefix", "params")

// LoadSwarmConfigFile loads a YAML parameter override file on top of the
// default coordinator configuration and makes it active.
func LoadSwarmConfigFile(path string) error {
	yamlFile, err := ioutil.ReadFile(path) // #nosec G304
	if err != nil {
		return errors.Wrap(err, "failed to read swarm config file")
	}
	conf := DefaultCoordinatorConfig().Copy()
	if err := yaml.UnmarshalStrict(yamlFile, conf); err != nil {
		return errors.Wrap(err, "failed to parse swarm config file")
	}
	log.WithField("path", path).Info("Loaded swarm parameter overrides")
	OverrideCoordinatorConfig(conf)
	return nil
}

// LoadMeshConfigFile loads a YAML parameter override file on top of the
// default mesh configuration and makes it active.
func LoadMeshConfigFile(path string) error {
	yamlFile, err := ioutil.ReadFile(path) // #nosec G304
	if err != nil {
		return errors.Wrap(err, "failed to read mesh config file")
	}
	conf := DefaultMeshConfig().Copy()
	if err := yaml.UnmarshalStrict(yamlFile, conf); err != nil {
		return errors.Wrap(err, "failed to parse mesh config file")
	}
	log.WithField("path", path).Info("Loaded mesh parameter overrides")
	OverrideSwarmMeshConfig(conf)
	return nil
}
