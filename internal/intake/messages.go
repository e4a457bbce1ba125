package intake

import "fmt"

const (
	msgAudioAck    = "🎤 Recebi seu áudio! Vou ouvir agora e já te respondo... ⏳"
	msgAudioFailed = "Desculpe, tive dificuldade em ouvir seu áudio. Pode tentar novamente ou digitar sua mensagem? 😊"
	msgFallback    = "Desculpe, não consegui processar sua mensagem agora. Um de nossos corretores vai te responder em breve! 😊"
	msgNoMatch     = "😔 No momento não tenho imóveis disponíveis que se encaixem exatamente no que você procura.\n\n" +
		"Mas não desanima! Posso fazer algumas coisas por você:\n\n" +
		"1️⃣ Podemos ajustar um pouco o orçamento ou a região?\n" +
		"2️⃣ Cadastro seu interesse e te aviso assim que chegar algo perfeito!\n" +
		"3️⃣ Posso te mostrar opções bem próximas do que você quer?\n\n" +
		"O que você prefere? 😊"
)

func welcomeMessage(appName string) string {
	return fmt.Sprintf("Olá! 😊 Que alegria ter você aqui na *%s*!\n\n", appName) +
		"Sou da equipe de atendimento e estou aqui para te ajudar a encontrar o imóvel dos seus sonhos! 🏡✨\n\n" +
		"Vamos começar? Me conta com suas palavras:\n\n" +
		"🎤 *Pode enviar um áudio* (é mais fácil!) ou digitar, como preferir:\n\n" +
		"💰 Quanto você pode investir?\n" +
		"📍 Qual região você procura?\n" +
		"🛏️ Quantos quartos você precisa?\n" +
		"✨ Tem algum desejo especial?\n\n" +
		"Estou aqui para te ouvir! 💙"
}

func foundMessage(n int) string {
	what := fmt.Sprintf("%d imóveis que combinam", n)
	if n == 1 {
		what = "1 imóvel que combina"
	}
	return "🎉 Encontrei " + what + " com o que você procura!\n\nVou te enviar os detalhes agora..."
}
