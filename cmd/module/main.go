// Package main serves the language agent as a Viam module.
package main

import (
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"github.com/viam-labs/stretch-agent/services/languageagent"
)

func main() {
	module.ModularMain(resource.APIModel{API: generic.API, Model: languageagent.Model})
}
