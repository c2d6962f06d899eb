//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 1  // ADC read interval in milliseconds (same for both ADCs)
	NUM_SAMPLES        = 20 // Number of samples to average

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	ADC_FULL_SCALE   = 0xFFFF

	// Pressure potentiometer spans 0..200 kPa (code is kPa x 1000)
	PRESSURE_FULL_SCALE = 200000

	// Temperature potentiometer spans -40..125 degC (code is degC x 100)
	TEMPERATURE_MIN  = -4000
	TEMPERATURE_SPAN = 16500

	// ADC pins
	PIN_PRESSURE_ADC    = machine.A1
	PIN_TEMPERATURE_ADC = machine.A10

	// Status LED blinks on every answered command
	PIN_LED = machine.LED

	// Serial configuration
	// The monitor talks to the sensor module at a fixed 9600 baud, 8N1.
	// A pressure reply is 8 bytes (~8.3 ms on the wire), well inside the
	// monitor's 100 ms response timeout.
	UART_BAUD_RATE = 9600
)
