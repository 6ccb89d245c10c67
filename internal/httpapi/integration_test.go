package httpapi

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/scanner"
	"github.com/zombor/asset-scanner/internal/session"
)

func writeQRFrame(dir, payload string) {
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	Expect(err).NotTo(HaveOccurred())

	img := image.NewGray(matrix.Bounds())
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(img, img.Bounds(), matrix, image.Point{}, draw.Src)

	f, err := os.Create(filepath.Join(dir, "frame-000.png"))
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	Expect(png.Encode(f, img)).To(Succeed())
}

var _ = Describe("Scanning end to end", func() {
	var (
		store       *inventory.BoltStore
		engine      *scanner.Engine
		cancel      context.CancelFunc
		runDone     chan error
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		tmp := GinkgoT().TempDir()

		var err error
		store, err = inventory.NewBoltStore(filepath.Join(tmp, "inventory.db"))
		Expect(err).NotTo(HaveOccurred())
		assets := inventory.NewService(store)

		frames := filepath.Join(tmp, "frames")
		Expect(os.Mkdir(frames, 0o755)).To(Succeed())
		writeQRFrame(frames, "ab12cde")

		engine = scanner.New(scanner.Config{
			InitialDelay: 10 * time.Millisecond,
			Interval:     20 * time.Millisecond,
			Priority:     []decode.Source{decode.SourceCanvas},
		}, scanner.Deps{
			Camera: camera.NewController(camera.NewReplayDriver(frames, time.Second)),
			Canvas: decode.NewCanvas(decode.NewZXingQR()),
			Rows:   assets,
		})

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runDone = make(chan error, 1)
		go func() { runDone <- engine.Run(ctx) }()

		server := NewServer(engine, assets, BasicAuth{})
		ghttpServer = ghttp.NewServer()
		ghttpServer.RouteToHandler("POST", "/api/assets", server.ServeHTTP)
		ghttpServer.RouteToHandler("GET", "/api/assets", server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", "/api/session", server.ServeHTTP)
		ghttpServer.RouteToHandler("GET", "/api/session", server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", "/api/session/confirm", server.ServeHTTP)
		ghttpServer.RouteToHandler("DELETE", "/api/session", server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
		cancel()
		Eventually(runDone).Should(Receive(BeNil()))
		Expect(store.Close()).To(Succeed())
	})

	send := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should match a scanned QR to its row and verify it on confirm", func() {
		resp := send("POST", "/api/assets", `{"serial":"AB12CDE","name":"Laptop","location":"Room 4"}`)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = send("POST", "/api/session", `{"context":"primary"}`)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var snap session.Snapshot
		Eventually(func() session.State {
			r := send("GET", "/api/session", "")
			defer r.Body.Close()
			snap = session.Snapshot{}
			Expect(json.NewDecoder(r.Body).Decode(&snap)).To(Succeed())
			return snap.State
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(session.StateMatchPending))

		Expect(snap.Match).NotTo(BeNil())
		Expect(snap.Match.Candidate.Normalized).To(Equal("AB12CDE"))
		Expect(snap.Match.Asset).NotTo(BeNil())
		Expect(snap.Match.Asset.Name).To(Equal("Laptop"))

		resp = send("POST", "/api/session/confirm", "")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var confirmed inventory.Asset
		Expect(json.NewDecoder(resp.Body).Decode(&confirmed)).To(Succeed())
		Expect(confirmed.Verified).To(BeTrue())
		Expect(confirmed.VerifiedAt).NotTo(BeNil())

		stored, err := store.FindBySerial("AB12CDE")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Verified).To(BeTrue())
	})

	It("should report a match without a row", func() {
		resp := send("POST", "/api/session", "")
		resp.Body.Close()

		Eventually(func() session.State {
			r := send("GET", "/api/session", "")
			defer r.Body.Close()
			var snap session.Snapshot
			Expect(json.NewDecoder(r.Body).Decode(&snap)).To(Succeed())
			return snap.State
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(session.StateMatchPending))

		resp = send("POST", "/api/session/confirm", "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		resp = send("DELETE", "/api/session", "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
	})
})
