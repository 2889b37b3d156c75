package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"jetracer"
	"jetracer/camera"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	driver := flag.String("driver", jetracer.DriverPCA9685, "pca9685 or vesc-can")
	bus := flag.String("bus", "", "i2c bus")
	address := flag.Int("address", 0x40, "pca9685 i2c address")
	canInterface := flag.String("interface", "", "can interface")
	steering := flag.Float64("steering", 0, "steering, -1 to 1")
	throttle := flag.Float64("throttle", 0, "throttle, -1 to 1")
	hold := flag.Duration("hold", 5*time.Second, "how long to hold the command")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger("cli")

	backend, err := camera.DefaultBackend()
	if err != nil {
		return err
	}
	logger.Infof("camera backend: %s", backend)

	cfg := jetracer.Config{
		Driver:       *driver,
		I2CBus:       *bus,
		I2CAddress:   address,
		CANInterface: *canInterface,
	}
	_, _, err = cfg.Validate("")
	if err != nil {
		return err
	}

	deps := resource.Dependencies{}

	car, err := jetracer.NewRacecar(ctx, deps, base.Named("car"), &cfg, logger)
	if err != nil {
		return err
	}
	defer car.Close(ctx)

	if err := car.SetSteering(*steering); err != nil {
		return err
	}
	if err := car.SetThrottle(*throttle); err != nil {
		return err
	}

	time.Sleep(*hold)

	s := car.RampState()
	fmt.Printf("steering %.2f throttle %.2f status %.2f target %.2f ramping %v\n",
		car.Steering(), car.Throttle(), s.Status, s.Target, s.Ramping)

	return car.Stop(ctx, nil)
}
