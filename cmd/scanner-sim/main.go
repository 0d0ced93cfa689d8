package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// scanPayload mirrors the JSON a printed panel QR code carries. The simulator
// publishes it the way a handheld scanner relays a decoded code.
type scanPayload struct {
	PanelNo  string `json:"panelNo"`
	Floor    string `json:"floor,omitempty"`
	Location string `json:"location,omitempty"`
}

var samplePanels = []scanPayload{
	{PanelNo: "1", Floor: "1층", Location: "기계실"},
	{PanelNo: "1-1", Floor: "1층", Location: "복도"},
	{PanelNo: "2", Floor: "2층", Location: "전기실"},
	{PanelNo: "3-1", Floor: "1.5층", Location: "창고"},
	{PanelNo: "4", Floor: "옥상", Location: "옥탑"},
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	scannerID := flag.String("scanner-id", "sim-scanner-1", "Scanner identifier")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published scans")
	rawMode := flag.Bool("raw", false, "Publish bare panel numbers instead of JSON payloads")

	flag.Parse()

	clientID := fmt.Sprintf("%s-simulator-%d", *scannerID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	topic := fmt.Sprintf("scanners/%s/scan", *scannerID)

	publish := func() {
		sample := samplePanels[rand.Intn(len(samplePanels))]

		var data []byte
		if *rawMode {
			data = []byte(sample.PanelNo)
		} else {
			encoded, err := json.Marshal(sample)
			if err != nil {
				log.Printf("failed to encode payload: %v", err)
				return
			}
			data = encoded
		}

		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s panel=%s", topic, sample.PanelNo)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}
