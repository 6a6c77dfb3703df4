package pipe_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/pipe"
	"github.com/svens/salcrypto/view"
)

// serverIdentity builds a self-signed ECDSA certificate/key pair good
// enough for an in-process handshake, grounded on the same genCertificate
// pattern used by the certificate package's own fixtures.
func serverIdentity() (tls.Certificate, *x509.CertPool) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).NotTo(HaveOccurred())
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pipe.example.com"},
		DNSNames:     []string{"pipe.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	Expect(err).NotTo(HaveOccurred())
	leaf, err := x509.ParseCertificate(der)
	Expect(err).NotTo(HaveOccurred())

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

func newPair() (*pipe.Pipe, *pipe.Pipe) {
	serverCert, rootPool := serverIdentity()

	serverFactory, err := pipe.NewFactory(pipe.FactoryOptions{
		Role:         pipe.RoleServer,
		Certificates: []tls.Certificate{serverCert},
	})
	Expect(err).NotTo(HaveOccurred())

	clientFactory, err := pipe.NewFactory(pipe.FactoryOptions{
		Role:     pipe.RoleClient,
		RootCAs:  rootPool,
		PeerName: "pipe.example.com",
	})
	Expect(err).NotTo(HaveOccurred())

	return clientFactory.NewPipe(), serverFactory.NewPipe()
}

// drive shuttles handshake flights between the two pipes until both reach
// the Connected state or the round-trip budget is exhausted.
func drive(client, server *pipe.Pipe) {
	var toServer, toClient []byte
	for i := 0; i < 20 && (client.State() != pipe.StateConnected || server.State() != pipe.StateConnected); i++ {
		if client.State() != pipe.StateConnected {
			out := make([]byte, 64*1024)
			consumed, produced, err := client.Handshake(view.Of(toServer), view.OfMutable(out))
			Expect(err).NotTo(HaveOccurred())
			toServer = toServer[consumed:]
			toClient = append(toClient, out[:produced]...)
		}
		if server.State() != pipe.StateConnected {
			out := make([]byte, 64*1024)
			consumed, produced, err := server.Handshake(view.Of(toClient), view.OfMutable(out))
			Expect(err).NotTo(HaveOccurred())
			toClient = toClient[consumed:]
			toServer = append(toServer, out[:produced]...)
		}
	}
}

var _ = Describe("handshake and data transfer (scenario S5)", func() {
	It("reaches Connected on both sides and carries application data both ways", func() {
		client, server := newPair()
		drive(client, server)

		Expect(client.State()).To(Equal(pipe.StateConnected))
		Expect(server.State()).To(Equal(pipe.StateConnected))

		cipherBuf := make([]byte, 4096)
		_, produced, err := client.Encrypt(view.Of([]byte("hello server")), view.OfMutable(cipherBuf))
		Expect(err).NotTo(HaveOccurred())

		plainBuf := make([]byte, 4096)
		_, plainN, err := server.Decrypt(view.Of(cipherBuf[:produced]), view.OfMutable(plainBuf))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(plainBuf[:plainN])).To(Equal("hello server"))
	})

	It("is symmetric: either side can originate application data (property 6)", func() {
		client, server := newPair()
		drive(client, server)

		cipherBuf := make([]byte, 4096)
		_, produced, err := server.Encrypt(view.Of([]byte("hello client")), view.OfMutable(cipherBuf))
		Expect(err).NotTo(HaveOccurred())

		plainBuf := make([]byte, 4096)
		_, plainN, err := client.Decrypt(view.Of(cipherBuf[:produced]), view.OfMutable(plainBuf))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(plainBuf[:plainN])).To(Equal("hello client"))
	})

	It("rejects a post-connect handshake call with already-connected, without mutating state (property 7)", func() {
		client, server := newPair()
		drive(client, server)

		consumed, produced, err := client.Handshake(view.Of(nil), view.OfMutable(make([]byte, 64)))
		Expect(errkind.Is(err, errkind.AlreadyConnected)).To(BeTrue())
		Expect(consumed).To(Equal(0))
		Expect(produced).To(Equal(0))
		Expect(client.State()).To(Equal(pipe.StateConnected))
	})

	It("decrypts correctly when ciphertext is fed in small chunks (property 8)", func() {
		client, server := newPair()
		drive(client, server)

		cipherBuf := make([]byte, 4096)
		_, produced, err := client.Encrypt(view.Of([]byte("chunked payload")), view.OfMutable(cipherBuf))
		Expect(err).NotTo(HaveOccurred())

		var plain []byte
		record := cipherBuf[:produced]
		for len(record) > 0 {
			step := 3
			if step > len(record) {
				step = len(record)
			}
			plainBuf := make([]byte, 64)
			_, plainN, err := server.Decrypt(view.Of(record[:step]), view.OfMutable(plainBuf))
			Expect(err).NotTo(HaveOccurred())
			plain = append(plain, plainBuf[:plainN]...)
			record = record[step:]
		}
		Expect(string(plain)).To(Equal("chunked payload"))
	})
})
