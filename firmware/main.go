//go:build tinygo

//go:generate tinygo flash -target=xiao

// Bench firmware emulating the serial pressure/temperature module.
// Pressure and temperature come from two potentiometers on ADC pins; command
// frames from the monitor are answered with response frames.
package main

import (
	"machine"
	"time"

	"github.com/itohio/o2mon/pkg/frame"
)

var (
	adcPressure    machine.ADC
	adcTemperature machine.ADC
	uart           = machine.UART0

	// ADC averaging - running sums and counts
	pressureSum    uint32
	temperatureSum uint32
	sampleCount    int

	// Latest averaged readings
	pressure    uint32 = 101325
	temperature int16  = 2500

	// Timing
	lastADCRead time.Time

	// Command frame assembly
	cmdBuffer [frame.CommandLen]byte
	cmdPos    int
)

func main() {
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	// Configure ADC pins and set up ADCs with highest resolution
	PIN_PRESSURE_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_TEMPERATURE_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcPressure = machine.ADC{Pin: PIN_PRESSURE_ADC}
	adcTemperature = machine.ADC{Pin: PIN_TEMPERATURE_ADC}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}

	adcPressure.Configure(adcConfig)
	adcTemperature.Configure(adcConfig)

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastADCRead = time.Now()

	for {
		now := time.Now()

		processSerial()

		if now.Sub(lastADCRead) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			pressureSum += uint32(adcPressure.Get())
			temperatureSum += uint32(adcTemperature.Get())
			sampleCount++
			lastADCRead = now
		}

		if sampleCount >= NUM_SAMPLES {
			updateReadings()
			pressureSum = 0
			temperatureSum = 0
			sampleCount = 0
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func updateReadings() {
	pressureAvg := uint64(pressureSum / uint32(sampleCount))
	temperatureAvg := int32(temperatureSum / uint32(sampleCount))

	pressure = uint32(pressureAvg * PRESSURE_FULL_SCALE / ADC_FULL_SCALE)
	temperature = int16(TEMPERATURE_MIN + temperatureAvg*TEMPERATURE_SPAN/ADC_FULL_SCALE)
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		// Resynchronise on the start byte
		if cmdPos == 0 && data != frame.CommandStart {
			continue
		}

		cmdBuffer[cmdPos] = data
		cmdPos++
		if cmdPos < frame.CommandLen {
			continue
		}
		cmdPos = 0

		cmd, ok := frame.ParseCommand(cmdBuffer[:])
		if !ok {
			// Bad checksum or function code: the host times out
			continue
		}
		answer(cmd)
	}
}

func answer(cmd frame.Command) {
	var resp []byte
	switch cmd {
	case frame.Temperature:
		resp = frame.EncodeTemperature(temperature)
	case frame.Pressure:
		resp = frame.EncodePressure(pressure)
	default:
		return
	}

	PIN_LED.High()
	uart.Write(resp)
	PIN_LED.Low()
}
