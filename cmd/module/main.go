package main

import (
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"jetracer"
)

func main() {
	module.ModularMain(resource.APIModel{base.API, jetracer.RacecarModel})
}
