package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softctap/ctaphid"
)

// deviceConfig is the YAML device configuration.
type deviceConfig struct {
	VendorID     uint16 `yaml:"vendorID"`
	ProductID    uint16 `yaml:"productID"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	Serial       string `yaml:"serial"`
}

// loadIdentity builds the device identity, overlaying any configured
// fields on the defaults.
func loadIdentity(path string) (ctaphid.Identity, error) {
	id := ctaphid.DefaultIdentity()
	if path == "" {
		return id, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return id, fmt.Errorf("reading config: %w", err)
	}
	var config deviceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return id, fmt.Errorf("parsing config: %w", err)
	}

	if config.VendorID != 0 {
		id.VendorID = config.VendorID
	}
	if config.ProductID != 0 {
		id.ProductID = config.ProductID
	}
	if config.Manufacturer != "" {
		id.Manufacturer = config.Manufacturer
	}
	if config.Product != "" {
		id.Product = config.Product
	}
	if config.Serial != "" {
		id.SerialNumber = config.Serial
	}
	return id, nil
}
